package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tobyv/manualgrab/internal/catalog"
	"github.com/tobyv/manualgrab/internal/extract"
	"github.com/tobyv/manualgrab/internal/progress"
	"github.com/tobyv/manualgrab/internal/sink"
	"github.com/tobyv/manualgrab/internal/viewer"
)

const manualURL = "https://example.com/hp/14/manual"

var manual = catalog.Manual{
	Brand:    "HP",
	Model:    "14",
	Category: "laptops",
	URL:      manualURL,
}

func textView(page, total int, text string) *viewer.View {
	v := &viewer.View{
		RequestedURL: manualURL,
		FinalURL:     manualURL,
		TotalPages:   total,
		Text:         text,
	}
	if page == 1 {
		v.Title = "HP 14"
	}
	return v
}

// fakeFetcher serves canned views per page and counts every call.
type fakeFetcher struct {
	mu    sync.Mutex
	views map[int]*viewer.View
	errs  map[int]error
	calls map[int]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		views: make(map[int]*viewer.View),
		errs:  make(map[int]error),
		calls: make(map[int]int),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, page int) (*viewer.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[page]++
	if err, ok := f.errs[page]; ok {
		return nil, err
	}
	v, ok := f.views[page]
	if !ok {
		return nil, fmt.Errorf("no fixture for page %d", page)
	}
	return v, nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type countingGate struct{ n int }

func (g *countingGate) Wait(context.Context) error {
	g.n++
	return nil
}

type fakeImages struct{ data []byte }

func (f fakeImages) Image(context.Context, string, string) ([]byte, error) {
	return f.data, nil
}

type fakeOCR struct{ text string }

func (f fakeOCR) Text(context.Context, []byte) (string, error) {
	return f.text, nil
}

func newTestScraper(t *testing.T, f Fetcher) (*Scraper, *progress.Journal) {
	t.Helper()

	dir := t.TempDir()
	j, err := progress.Open(filepath.Join(dir, "journal.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return &Scraper{
		Fetch:       f,
		Journal:     j,
		Spool:       NewSpool(filepath.Join(dir, "spool")),
		Sink:        sink.New(filepath.Join(dir, "out")),
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, j
}

func longText(seed string) string {
	return strings.Repeat(seed+" ", 10)
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRunWritesMultiPageManual(t *testing.T) {
	f := newFakeFetcher()
	f.views[1] = textView(1, 3, longText("alpha"))
	f.views[2] = textView(2, 3, longText("bravo"))
	f.views[3] = textView(3, 3, longText("charlie"))

	s, j := newTestScraper(t, f)
	gate := &countingGate{}
	s.Gate = gate

	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))

	st, ok := j.Status(manualURL)
	require.True(t, ok)
	require.Equal(t, progress.StatusDone, st)

	path := s.Sink.Path(manual, 3)
	b := readFile(t, path)
	require.Contains(t, b, "HP 14")
	p1 := strings.Index(b, "--- Page 1 ---")
	p2 := strings.Index(b, "--- Page 2 ---")
	p3 := strings.Index(b, "--- Page 3 ---")
	require.True(t, p1 >= 0 && p1 < p2 && p2 < p3)
	require.Contains(t, b, "alpha")
	require.Contains(t, b, "charlie")

	// spool is scratch space only; done manuals leave nothing behind
	left, err := s.Spool.Load(manualURL)
	require.NoError(t, err)
	require.Empty(t, left)

	require.Equal(t, 3, gate.n)

	// a second run finds the terminal record and fetches nothing
	f2 := newFakeFetcher()
	s.Fetch = f2
	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))
	require.Equal(t, 0, f2.totalCalls())
}

func TestRedirectSkipsAfterOneFetch(t *testing.T) {
	f := newFakeFetcher()
	f.views[1] = &viewer.View{
		RequestedURL: manualURL,
		FinalURL:     "https://example.com/hp",
		TotalPages:   1,
	}

	s, j := newTestScraper(t, f)

	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))

	require.Equal(t, 1, f.totalCalls())
	st, ok := j.Status(manualURL)
	require.True(t, ok)
	require.Equal(t, progress.StatusSkipped, st)
	require.Equal(t, int64(1), s.Stats.Skipped.Load())
}

func TestEmptyManualRetriesThenFails(t *testing.T) {
	f := newFakeFetcher()
	// renders neither text nor an image, on every attempt
	f.views[1] = textView(1, 1, "")

	s, j := newTestScraper(t, f)

	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))

	require.Equal(t, s.MaxAttempts, f.totalCalls())
	st, ok := j.Status(manualURL)
	require.True(t, ok)
	require.Equal(t, progress.StatusFailed, st)
	require.Equal(t, int64(1), s.Stats.Failed.Load())
	require.Equal(t, int64(2), s.Stats.Retried.Load())

	left, err := s.Spool.Load(manualURL)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestResumeSkipsSpooledPages(t *testing.T) {
	f := newFakeFetcher()
	f.views[1] = textView(1, 3, longText("alpha"))
	f.views[3] = textView(3, 3, longText("charlie"))
	// no fixture for page 2: fetching it would fail the test

	s, j := newTestScraper(t, f)

	// state left by an interrupted run that had captured pages 1 and 2
	require.NoError(t, s.Spool.Append(manualURL, extract.FormatPage(1, longText("alpha"), false)))
	require.NoError(t, s.Spool.Append(manualURL, extract.FormatPage(2, longText("bravo"), false)))
	require.NoError(t, j.MarkPartial(manualURL, 3))

	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))

	require.Equal(t, 0, f.calls[2])
	require.Equal(t, 1, f.calls[1]) // metadata only
	require.Equal(t, 1, f.calls[3])

	b := readFile(t, s.Sink.Path(manual, 3))
	require.Contains(t, b, "bravo")
	require.Contains(t, b, "charlie")
	require.Equal(t, 1, strings.Count(b, "--- Page 2 ---"))

	st, _ := j.Status(manualURL)
	require.Equal(t, progress.StatusDone, st)
}

func TestImagePageFallsBackToOCR(t *testing.T) {
	f := newFakeFetcher()
	f.views[1] = textView(1, 2, longText("alpha"))
	f.views[2] = &viewer.View{
		RequestedURL: manualURL,
		FinalURL:     manualURL,
		TotalPages:   2,
		ImageURL:     "https://example.com/pages/2.webp",
	}

	s, _ := newTestScraper(t, f)
	s.Images = fakeImages{data: []byte("not really an image")}
	s.OCR = fakeOCR{text: "text recovered from the page image"}

	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))

	b := readFile(t, s.Sink.Path(manual, 2))
	require.Contains(t, b, "--- Page 2 (OCR) ---")
	require.Contains(t, b, "recovered from the page image")
}

func TestImagePageWithoutOCRStaysEmpty(t *testing.T) {
	f := newFakeFetcher()
	f.views[1] = &viewer.View{
		RequestedURL: manualURL,
		FinalURL:     manualURL,
		TotalPages:   1,
		ImageURL:     "https://example.com/pages/1.webp",
	}

	s, j := newTestScraper(t, f)
	s.Images = fakeImages{data: []byte("x")}
	// OCR left nil: defaults to extract.Disabled

	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))

	st, _ := j.Status(manualURL)
	require.Equal(t, progress.StatusFailed, st)
}

func TestNetworkErrorLeavesManualPending(t *testing.T) {
	f := newFakeFetcher()
	f.errs[1] = errors.New("connection reset by peer")

	s, j := newTestScraper(t, f)
	s.MaxAttempts = 2

	require.NoError(t, s.Run(context.Background(), []catalog.Manual{manual}))

	require.Equal(t, 2, f.totalCalls())
	require.False(t, j.Terminal(manualURL))
}

func TestRunHonoursCancelledContext(t *testing.T) {
	f := newFakeFetcher()
	f.errs[1] = errors.New("connection reset by peer")

	s, _ := newTestScraper(t, f)
	s.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, []catalog.Manual{manual})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpoolRoundTrip(t *testing.T) {
	sp := NewSpool(t.TempDir())

	require.NoError(t, sp.Append("u1", "one"))
	require.NoError(t, sp.Append("u1", "two"))
	require.NoError(t, sp.Append("u2", "other"))

	got, err := sp.Load("u1")
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\n", got)

	require.NoError(t, sp.Clear("u1"))
	got, err = sp.Load("u1")
	require.NoError(t, err)
	require.Empty(t, got)

	// clearing what never existed is fine
	require.NoError(t, sp.Clear("u1"))

	got, err = sp.Load("u2")
	require.NoError(t, err)
	require.Equal(t, "other\n", got)
}
