package viewer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const textPage = `<html><body>
<h1>HP 14 manual</h1>
<div class="manual__subtitle">Laptop &middot; 48 pages</div>
<div class="manual__description">User manual for the HP 14 laptop.</div>
<div class="toc__container">
  <a data-page="3">Safety information</a>
  <a data-page="7">Getting started</a>
</div>
<button class="btn">1 / 48</button>
<div class="viewer-page">Congratulations on purchasing your new HP 14 laptop.
This manual covers setup, daily use and troubleshooting.</div>
</body></html>`

const imagePage = `<html><body>
<h1>Atari 520ST manual</h1>
<button class="btn">2 / 12</button>
<div class="viewer-page"></div>
<div class="bi" style="background-image: url('/pages/atari-520st/002.webp');"></div>
</body></html>`

func newViewerServer(t *testing.T) *httptest.Server {
	t.Helper()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hp/14/manual":
			fmt.Fprint(w, textPage)
		case "/atari/520st/manual":
			fmt.Fprint(w, imagePage)
		case "/ecs/t30ii/manual":
			// removed manual: site bounces to the brand listing
			http.Redirect(w, r, srv.URL+"/ecs", http.StatusFound)
		case "/ecs":
			fmt.Fprint(w, "<html><body><h1>ECS manuals</h1></body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestFetchTextPage(t *testing.T) {
	srv := newViewerServer(t)
	c := NewClient(srv.Client(), nil)

	v, err := c.Fetch(context.Background(), srv.URL+"/hp/14/manual", 1)
	require.NoError(t, err)

	require.False(t, v.Redirected())
	require.Equal(t, "HP 14 manual", v.Title)
	require.Contains(t, v.Subtitle, "48 pages")
	require.Equal(t, 48, v.TotalPages)
	require.Len(t, v.TOC, 2)
	require.Equal(t, "3", v.TOC[0].Page)
	require.Equal(t, "Safety information", v.TOC[0].Title)
	require.Contains(t, v.Text, "Congratulations on purchasing")
	require.False(t, v.FromFallback)
}

func TestFetchImagePage(t *testing.T) {
	srv := newViewerServer(t)
	c := NewClient(srv.Client(), nil)

	v, err := c.Fetch(context.Background(), srv.URL+"/atari/520st/manual", 2)
	require.NoError(t, err)

	require.False(t, v.Redirected())
	require.Empty(t, v.Text)
	require.Equal(t, srv.URL+"/pages/atari-520st/002.webp", v.ImageURL)
	require.Equal(t, 12, v.TotalPages)
}

func TestFetchDetectsRedirect(t *testing.T) {
	srv := newViewerServer(t)
	c := NewClient(srv.Client(), nil)

	v, err := c.Fetch(context.Background(), srv.URL+"/ecs/t30ii/manual", 1)
	require.NoError(t, err)
	require.True(t, v.Redirected())
	require.Equal(t, srv.URL+"/ecs", v.FinalURL)
}

func TestFetchReadabilityFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// restructured page: no viewer region, content in a plain article
		fmt.Fprint(w, `<html><head><title>Manual</title></head><body>
<article><h2>Operating instructions</h2>`+
			strings.Repeat("<p>Keep the ventilation slots free of dust and obstructions at all times, and never operate the unit on soft surfaces such as beds or carpets.</p>", 12)+
			`</article></body></html>`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), nil)
	v, err := c.Fetch(context.Background(), srv.URL+"/some/brand/manual", 1)
	require.NoError(t, err)

	require.True(t, v.FromFallback)
	require.Contains(t, v.Text, "ventilation slots")
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), nil)
	_, err := c.Fetch(context.Background(), srv.URL+"/x/y/manual", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestPageURL(t *testing.T) {
	require.Equal(t, "https://x.test/hp/14/manual", PageURL("https://x.test/hp/14/manual", 1))
	require.Equal(t, "https://x.test/hp/14/manual?p=7", PageURL("https://x.test/hp/14/manual", 7))
}

func TestRedirectedNormalizesTrailingSlash(t *testing.T) {
	v := &View{
		RequestedURL: "https://x.test/hp/14/manual",
		FinalURL:     "https://x.test/hp/14/manual/",
	}
	require.False(t, v.Redirected())
}
