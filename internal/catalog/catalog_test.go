package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func listingHTML(links ...string) string {
	body := "<html><body><ul>"
	for _, l := range links {
		body += fmt.Sprintf(`<li><a href=%q>some manual</a></li>`, l)
	}
	body += `<a href="/about">about</a><a href="?p=2">2</a><a href="?p=3">3</a>`
	body += "</ul></body></html>"
	return body
}

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("p") {
		case "", "1":
			fmt.Fprint(w, listingHTML("/hp/14/manual", "/hp/15/manual", "/acer/aspire-5/manual"))
		case "2":
			fmt.Fprint(w, listingHTML("/lenovo/thinkpad-t480/manual", "/hp/14/manual"))
		default:
			// past the end the site bounces back to the bare listing
			http.Redirect(w, r, srv.URL+"/laptops", http.StatusFound)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestDiscoverPaginatesAndDedupes(t *testing.T) {
	srv := newListingServer(t)
	c := New(srv.Client(), nil, nil)

	manuals, err := c.Discover(context.Background(), srv.URL+"/laptops", "laptops", 0)
	require.NoError(t, err)

	urls := make([]string, len(manuals))
	for i, m := range manuals {
		urls[i] = m.URL
	}

	// 3 from page one, 1 new from page two, dedup across pages, stop on the
	// redirect past page two
	require.Len(t, manuals, 4)
	require.Contains(t, urls, srv.URL+"/hp/14/manual")
	require.Contains(t, urls, srv.URL+"/lenovo/thinkpad-t480/manual")
}

func TestListingManualsParsesBrandAndModel(t *testing.T) {
	srv := newListingServer(t)
	c := New(srv.Client(), nil, nil)

	manuals, err := c.ListingManuals(context.Background(), srv.URL+"/laptops", "laptops")
	require.NoError(t, err)
	require.Len(t, manuals, 3)

	byURL := map[string]Manual{}
	for _, m := range manuals {
		byURL[m.URL] = m
	}

	hp := byURL[srv.URL+"/hp/14/manual"]
	require.Equal(t, "HP", hp.Brand)
	require.Equal(t, "14", hp.Model)
	require.Equal(t, "laptops", hp.Category)

	acer := byURL[srv.URL+"/acer/aspire-5/manual"]
	require.Equal(t, "Acer", acer.Brand)
	require.Equal(t, "Aspire 5", acer.Model)
}

func TestTotalPages(t *testing.T) {
	srv := newListingServer(t)
	c := New(srv.Client(), nil, nil)

	n, err := c.TotalPages(context.Background(), srv.URL+"/laptops")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

type countingGate struct{ calls int }

func (g *countingGate) Wait(context.Context) error {
	g.calls++
	return nil
}

func TestDiscoverConsultsGatePerRequest(t *testing.T) {
	srv := newListingServer(t)
	gate := &countingGate{}
	c := New(srv.Client(), gate, nil)

	_, err := c.Discover(context.Background(), srv.URL+"/laptops", "laptops", 0)
	require.NoError(t, err)
	// pages 1, 2 and the bounced request past the end
	require.Equal(t, 3, gate.calls)
}

func TestHumanizeSegment(t *testing.T) {
	cases := map[string]string{
		"hp":           "HP",
		"acer":         "Acer",
		"packard-bell": "Packard Bell",
		"msi":          "MSI",
		"14":           "14",
	}
	for in, want := range cases {
		require.Equal(t, want, humanizeSegment(in), "segment %q", in)
	}
}

func TestCacheRoundTripAndSelect(t *testing.T) {
	cache := Cache{
		"laptops": {
			{Brand: "HP", Model: "14", URL: "https://example.com/hp/14/manual"},
			{Brand: "Acer", Model: "Aspire 5", URL: "https://example.com/acer/aspire-5/manual"},
		},
		"desktops": {
			{Brand: "HP", Model: "Elite Tower", URL: "https://example.com/hp/elite-tower/manual"},
		},
	}

	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, cache.Save(path))

	loaded, err := LoadCache(path)
	require.NoError(t, err)

	all := loaded.Select("", "")
	require.Len(t, all, 3)

	hpLaptops := loaded.Select("laptops", "hp")
	require.Len(t, hpLaptops, 1)
	require.Equal(t, "14", hpLaptops[0].Model)
	require.Equal(t, "laptops", hpLaptops[0].Category)

	require.Equal(t, []string{"Acer", "HP"}, loaded.Brands("laptops"))
}
