// Package catalog discovers manual viewer URLs by walking the paginated
// listing pages of a category and scanning them for /<brand>/<model>/manual
// links.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tobyv/manualgrab/internal/util"
)

type Manual struct {
	Brand    string `json:"brand"`
	Model    string `json:"model"`
	Category string `json:"category,omitempty"`
	URL      string `json:"url"`
}

// Waiter gates every listing request; see internal/ratelimit.
type Waiter interface {
	Wait(ctx context.Context) error
}

type debugLogger interface {
	Debugf(string, ...any)
}

type Client struct {
	client *http.Client
	gate   Waiter
	log    debugLogger
}

func New(c *http.Client, gate Waiter, log debugLogger) *Client {
	return &Client{client: c, gate: gate, log: log}
}

var (
	reManualPath = regexp.MustCompile(`^/([^/]+)/([^/]+)/manual/?$`)
	rePageParam  = regexp.MustCompile(`[?&]p=(\d+)`)
)

// FromURL builds a Manual from a viewer URL directly, for runs that target a
// single manual instead of a discovered category.
func FromURL(rawURL, category string) (Manual, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Manual{}, fmt.Errorf("manual url: %w", err)
	}

	m := reManualPath.FindStringSubmatch(u.Path)
	if m == nil {
		return Manual{}, fmt.Errorf("manual url: %q does not look like /<brand>/<model>/manual", rawURL)
	}

	return Manual{
		Brand:    humanizeSegment(m[1]),
		Model:    humanizeSegment(m[2]),
		Category: category,
		URL:      rawURL,
	}, nil
}

// Discover walks the category listing from page 1 until the site runs out of
// pages, returning every manual found. Stops on: an empty page, a page the
// server redirected back to the unpaginated listing, or maxPages (0 = no cap).
func (c *Client) Discover(ctx context.Context, listingURL, category string, maxPages int) ([]Manual, error) {
	var all []Manual
	seen := map[string]bool{}

	for page := 1; ; page++ {
		if maxPages > 0 && page > maxPages {
			break
		}

		pageURL := listingURL
		if page > 1 {
			pageURL = withPageParam(listingURL, page)
		}

		if c.gate != nil {
			if err := c.gate.Wait(ctx); err != nil {
				return all, err
			}
		}

		doc, finalURL, err := c.fetchDOM(ctx, pageURL)
		if err != nil {
			return all, fmt.Errorf("listing page %d: %w", page, err)
		}

		// Past the last page the site redirects ?p=N back to the bare
		// listing; that is the end marker.
		if page > 1 && !rePageParam.MatchString(finalURL) {
			if c.log != nil {
				c.log.Debugf("listing page %d redirected to %s, stopping\n", page, finalURL)
			}
			break
		}

		found := c.manualsFromDoc(doc, pageURL, category)
		added := 0
		for _, m := range found {
			if seen[m.URL] {
				continue
			}
			seen[m.URL] = true
			all = append(all, m)
			added++
		}

		if c.log != nil {
			c.log.Debugf("listing page %d: %d links, %d new\n", page, len(found), added)
		}

		if added == 0 {
			break
		}
	}

	return all, nil
}

// ListingManuals extracts the manuals linked from a single listing page.
func (c *Client) ListingManuals(ctx context.Context, listingURL, category string) ([]Manual, error) {
	if c.gate != nil {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	doc, _, err := c.fetchDOM(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	return c.manualsFromDoc(doc, listingURL, category), nil
}

// TotalPages scans a listing page's pagination links for the highest ?p=N it
// advertises. Returns 1 when no pagination is present.
func (c *Client) TotalPages(ctx context.Context, listingURL string) (int, error) {
	if c.gate != nil {
		if err := c.gate.Wait(ctx); err != nil {
			return 0, err
		}
	}

	doc, _, err := c.fetchDOM(ctx, listingURL)
	if err != nil {
		return 0, err
	}

	maxPage := 1
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := rePageParam.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxPage {
				maxPage = n
			}
		}
	})

	return maxPage, nil
}

func (c *Client) manualsFromDoc(doc *goquery.Document, baseURL, category string) []Manual {
	var out []Manual
	seen := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		u, err := url.Parse(href)
		if err != nil {
			return
		}

		m := reManualPath.FindStringSubmatch(u.Path)
		if m == nil {
			return
		}

		full := resolveURL(baseURL, href)
		if seen[full] {
			return
		}
		seen[full] = true

		out = append(out, Manual{
			Brand:    humanizeSegment(m[1]),
			Model:    humanizeSegment(m[2]),
			Category: category,
			URL:      full,
		})
	})

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Brand != out[j].Brand {
			return out[i].Brand < out[j].Brand
		}
		return out[i].Model < out[j].Model
	})

	return out
}

func (c *Client) fetchDOM(ctx context.Context, target string) (*goquery.Document, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := util.DoWithRetry(c.client, req, 3, 500*time.Millisecond)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", err
	}

	return doc, resp.Request.URL.String(), nil
}

func withPageParam(listingURL string, page int) string {
	u, err := url.Parse(listingURL)
	if err != nil {
		return fmt.Sprintf("%s?p=%d", listingURL, page)
	}

	q := u.Query()
	q.Set("p", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	return u.String()
}

func resolveURL(baseURL, href string) string {
	u, err := url.Parse(href)
	if err == nil && u.IsAbs() {
		return u.String()
	}

	b, err := url.Parse(baseURL)
	if err != nil {
		return href
	}

	return b.ResolveReference(u).String()
}

// humanizeSegment turns a URL path segment like "packard-bell" into
// "Packard Bell". Short segments stay upper-cased ("hp" -> "HP").
func humanizeSegment(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	words := strings.Fields(s)

	for i, w := range words {
		if len(w) <= 3 && !hasVowel(w) {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}

	return strings.Join(words, " ")
}

func hasVowel(s string) bool {
	return strings.ContainsAny(strings.ToLower(s), "aeiou")
}
