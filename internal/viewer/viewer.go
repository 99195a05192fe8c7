// Package viewer fetches a manual's viewer pages and pulls out whatever the
// site rendered: the text region when the page is text, or the CSS background
// image URL when it is image-rendered. A fetched URL resolving somewhere else
// is the site's way of saying the manual no longer exists.
package viewer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

type TOCEntry struct {
	Page  string
	Title string
}

type View struct {
	RequestedURL string
	FinalURL     string

	Title       string
	Subtitle    string
	Description string
	TOC         []TOCEntry
	TotalPages  int

	// Text is the extracted text region, empty when the page rendered as an
	// image or nothing usable was found.
	Text string
	// ImageURL is the page's background image, the input to the OCR fallback.
	ImageURL string
	// FromFallback marks text recovered by readability instead of the viewer
	// text region.
	FromFallback bool
}

// Redirected reports whether the server resolved the request somewhere else,
// which the scraper treats as content-removed.
func (v *View) Redirected() bool {
	return normalizeURL(v.FinalURL) != normalizeURL(v.RequestedURL)
}

type debugLogger interface {
	Debugf(string, ...any)
}

type Client struct {
	client *http.Client
	log    debugLogger

	// MinText is the shortest text-region extraction considered real content.
	MinText int
}

func NewClient(c *http.Client, log debugLogger) *Client {
	return &Client{client: c, log: log, MinText: 30}
}

var (
	reBackgroundURL = regexp.MustCompile(`url\((?:["']?)([^"')]+)(?:["']?)\)`)
	rePageIndicator = regexp.MustCompile(`/\s*(\d+)`)
	rePageCount     = regexp.MustCompile(`(?i)(\d+)\s*pages?`)
)

// PageURL returns the viewer URL for one page of a manual; page 1 is the
// manual URL itself.
func PageURL(manualURL string, page int) string {
	if page <= 1 {
		return manualURL
	}

	u, err := url.Parse(manualURL)
	if err != nil {
		return fmt.Sprintf("%s?p=%d", manualURL, page)
	}

	q := u.Query()
	q.Set("p", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	return u.String()
}

// Fetch loads one viewer page. Transport and HTTP errors are returned as-is;
// retry policy belongs to the caller, which also owns the rate gate.
func (c *Client) Fetch(ctx context.Context, manualURL string, page int) (*View, error) {
	target := PageURL(manualURL, page)

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	v := &View{
		RequestedURL: target,
		FinalURL:     resp.Request.URL.String(),
	}

	if v.Redirected() {
		// No point parsing a listing page we were bounced to.
		return v, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	c.parseMeta(doc, v)
	c.parseContent(doc, v, body, resp.Request.URL)

	return v, nil
}

func (c *Client) parseMeta(doc *goquery.Document, v *View) {
	v.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	v.Subtitle = strings.TrimSpace(doc.Find(".manual__subtitle").First().Text())
	v.Description = strings.TrimSpace(doc.Find(".manual__description").First().Text())

	doc.Find(".toc__container a").Each(func(_ int, a *goquery.Selection) {
		title := strings.TrimSpace(a.Text())
		if title == "" {
			return
		}
		pageAttr, _ := a.Attr("data-page")
		v.TOC = append(v.TOC, TOCEntry{Page: pageAttr, Title: title})
	})

	// "1 / 48" style page indicator, with a body-text fallback
	if m := rePageIndicator.FindStringSubmatch(doc.Find(".btn").Text()); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			v.TotalPages = n
		}
	}
	if v.TotalPages == 0 {
		if m := rePageCount.FindStringSubmatch(doc.Text()); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				v.TotalPages = n
			}
		}
	}
	if v.TotalPages == 0 {
		v.TotalPages = 1
	}
}

func (c *Client) parseContent(doc *goquery.Document, v *View, body []byte, finalURL *url.URL) {
	v.Text = strings.TrimSpace(doc.Find(".viewer-page").First().Text())

	if style, ok := doc.Find(".bi").First().Attr("style"); ok {
		if m := reBackgroundURL.FindStringSubmatch(style); m != nil {
			v.ImageURL = resolveRef(finalURL, strings.TrimSpace(m[1]))
		}
	}

	if len(v.Text) >= c.MinText {
		return
	}

	// An image-rendered page is not malformed; leave it to the OCR path.
	if v.ImageURL != "" {
		return
	}

	// Alternate strategy for malformed or restructured pages: let
	// readability find the main content before we give up on text.
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(body), finalURL)
	if err != nil {
		if c.log != nil {
			c.log.Debugf("readability fallback failed for %s: %v\n", v.RequestedURL, err)
		}
		return
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) >= c.MinText && len(text) > len(v.Text) {
		v.Text = text
		v.FromFallback = true
	}
}

func resolveRef(base *url.URL, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.IsAbs() || base == nil {
		return u.String()
	}

	return base.ResolveReference(u).String()
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""

	return u.String()
}
