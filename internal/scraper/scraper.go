// Package scraper runs the resumable fetch-and-extract loop: for every
// pending manual it walks the viewer pages, spools extracted text, and on
// completion hands the assembled document to the sink and marks the manual
// done. Every per-item failure degrades to skip-and-continue; nothing here
// aborts a batch.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tobyv/manualgrab/internal/catalog"
	"github.com/tobyv/manualgrab/internal/extract"
	"github.com/tobyv/manualgrab/internal/progress"
	"github.com/tobyv/manualgrab/internal/ratelimit"
	"github.com/tobyv/manualgrab/internal/sink"
	"github.com/tobyv/manualgrab/internal/ui"
	"github.com/tobyv/manualgrab/internal/viewer"
)

// ErrRemoved marks a redirect-detected removal: terminal, never retried.
var ErrRemoved = errors.New("scraper: manual removed (redirect)")

// ErrNoContent marks an attempt that produced no usable text; the manual is
// retried up to MaxAttempts before it is recorded as failed.
var ErrNoContent = errors.New("scraper: no extractable content")

// Fetcher loads one viewer page; satisfied by *viewer.Client.
type Fetcher interface {
	Fetch(ctx context.Context, manualURL string, page int) (*viewer.View, error)
}

// Waiter gates requests; satisfied by *ratelimit.Gate.
type Waiter interface {
	Wait(ctx context.Context) error
}

// ImageSource downloads page images for the OCR fallback.
type ImageSource interface {
	Image(ctx context.Context, imageURL, referer string) ([]byte, error)
}

// HTTPImages adapts an http.Client to ImageSource.
func HTTPImages(c *http.Client) ImageSource {
	return httpImages{c}
}

type httpImages struct{ client *http.Client }

func (h httpImages) Image(ctx context.Context, imageURL, referer string) ([]byte, error) {
	return extract.FetchImage(ctx, h.client, imageURL, referer)
}

// PageProgress receives page-level progress; satisfied by *ui.ProgressHandle.
type PageProgress interface {
	SetTotal(total int)
	Update(done, total int, chars int64)
	MarkDone()
}

type Scraper struct {
	Fetch   Fetcher
	Gate    Waiter
	Breaker *ratelimit.Breaker
	Journal *progress.Journal
	Spool   *Spool
	Sink    *sink.Writer
	OCR     extract.OCR
	Images  ImageSource
	Log     *ui.Logger
	Stats   *ui.Stats

	// MaxAttempts bounds how often one manual is tried before it is recorded
	// as failed (empty extraction) or left pending (network trouble).
	MaxAttempts int
	// RetryDelay is the base of the linearly increasing sleep between
	// attempts at the same manual.
	RetryDelay time.Duration
	// MinPageText is the shortest extraction that counts as page content.
	MinPageText int
	// MinManualText is the shortest assembled document worth keeping.
	MinManualText int
	// EmptyStreakLimit aborts an attempt after this many consecutive pages
	// without content; spooled pages are kept for the retry.
	EmptyStreakLimit int

	// Progress, when set, is called once per manual to obtain a bar handle.
	Progress func(name string) PageProgress
}

func (s *Scraper) defaults() {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = 2 * time.Second
	}
	if s.MinPageText <= 0 {
		s.MinPageText = 30
	}
	if s.MinManualText <= 0 {
		s.MinManualText = 100
	}
	if s.EmptyStreakLimit <= 0 {
		s.EmptyStreakLimit = 5
	}
	if s.OCR == nil {
		s.OCR = extract.Disabled{}
	}
	if s.Log == nil {
		s.Log = ui.NewLogger(false)
	}
	if s.Stats == nil {
		s.Stats = &ui.Stats{}
	}
}

// Run processes every manual not already in a terminal state. It returns an
// error only when the context is cancelled; per-manual failures are recorded
// and the batch continues.
func (s *Scraper) Run(ctx context.Context, manuals []catalog.Manual) error {
	s.defaults()

	for _, m := range manuals {
		if s.Journal != nil && s.Journal.Terminal(m.URL) {
			s.Log.Debugf("already recorded, skipping %s\n", m.URL)
			continue
		}

		if err := s.runOne(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// left pending for a future run
			s.Log.Errorf("%s %s: %v (left pending)\n", m.Brand, m.Model, err)
		}
	}

	return nil
}

func (s *Scraper) runOne(ctx context.Context, m catalog.Manual) error {
	var lastErr error

	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		if attempt > 1 {
			s.Stats.Retried.Add(1)
			if err := sleepCtx(ctx, s.RetryDelay*time.Duration(attempt-1)); err != nil {
				return err
			}
		}

		err := s.scrapeOnce(ctx, m)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRemoved) {
			// terminal after exactly one attempt
			s.record(m.URL, progress.StatusSkipped)
			s.Stats.Skipped.Add(1)
			s.Log.Infof("removed (redirect): %s\n", m.URL)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		s.Log.Warnf("%s %s attempt %d/%d: %v\n", m.Brand, m.Model, attempt, s.MaxAttempts, err)

		if s.Breaker != nil && s.Breaker.InBackoff() {
			if err := s.Breaker.Wait(ctx); err != nil {
				return err
			}
			s.relaxGate()
		}
	}

	if errors.Is(lastErr, ErrNoContent) {
		s.record(m.URL, progress.StatusFailed)
		_ = s.Spool.Clear(m.URL)
		s.Stats.Failed.Add(1)
		s.Log.Errorf("giving up on %s after %d attempts\n", m.URL, s.MaxAttempts)
		return nil
	}

	return lastErr
}

func (s *Scraper) scrapeOnce(ctx context.Context, m catalog.Manual) error {
	startPage := 1
	if s.Journal != nil {
		startPage = s.Journal.ResumePage(m.URL)
	}

	// Page one carries the page count and front matter, so it is always
	// fetched, resume or not.
	first, err := s.fetchPage(ctx, m.URL, 1)
	if err != nil {
		return err
	}
	if first.Redirected() {
		return ErrRemoved
	}

	total := first.TotalPages

	// An earlier run may have written the file and crashed before recording
	// it; the file is the source of truth.
	if s.Sink != nil && s.Sink.Exists(m, total) {
		s.record(m.URL, progress.StatusDone)
		_ = s.Spool.Clear(m.URL)
		s.Log.Infof("output already exists for %s %s\n", m.Brand, m.Model)
		return nil
	}

	var ph PageProgress
	if s.Progress != nil {
		ph = s.Progress(m.Brand + " " + m.Model)
		ph.SetTotal(total)
		defer ph.MarkDone()
	}

	if startPage == 1 {
		// a from-scratch attempt discards whatever an aborted one spooled
		if err := s.Spool.Clear(m.URL); err != nil {
			return err
		}
		if err := s.spoolFront(m, first); err != nil {
			return err
		}
	}

	var chars int64
	emptyStreak := 0

	for page := startPage; page <= total; page++ {
		v := first
		if page != 1 {
			v, err = s.fetchPage(ctx, m.URL, page)
			if err != nil {
				// keep what we have; the retry resumes here
				return err
			}
			if v.Redirected() {
				// inner pages bouncing means the manual went away mid-run
				return ErrRemoved
			}
		}

		section, ocrUsed := s.pageSection(ctx, m, v, page)
		if section == "" {
			emptyStreak++
			if emptyStreak >= s.EmptyStreakLimit {
				return fmt.Errorf("%w: %d consecutive empty pages at %d", ErrNoContent, emptyStreak, page)
			}
		} else {
			emptyStreak = 0
			if err := s.Spool.Append(m.URL, section); err != nil {
				return err
			}
			chars += int64(len(section))
			s.Stats.TotalPages.Add(1)
			if ocrUsed {
				s.Log.Debugf("page %d of %s recovered via OCR\n", page, m.URL)
			}
			// advance the resume point only past captured pages, so empty
			// pages are refetched on retry
			s.markPartial(m.URL, page+1)
		}

		if ph != nil {
			ph.Update(page, total, chars)
		}
	}

	content, err := s.Spool.Load(m.URL)
	if err != nil {
		return err
	}
	if len(content) < s.MinManualText || !extract.HasPages(content) {
		return fmt.Errorf("%w: %d chars total", ErrNoContent, len(content))
	}

	path, err := s.Sink.Write(m, total, extract.Normalize(content))
	if err != nil {
		return err
	}

	s.record(m.URL, progress.StatusDone)
	_ = s.Spool.Clear(m.URL)

	s.Stats.TotalManuals.Add(1)
	s.Stats.TotalChars.Add(int64(len(content)))
	s.Log.Infof("saved %s (%d pages, %s)\n", path, total, humanChars(len(content)))

	return nil
}

// pageSection extracts one page's contribution to the document, trying the
// viewer text region first and the image+OCR fallback second.
func (s *Scraper) pageSection(ctx context.Context, m catalog.Manual, v *viewer.View, page int) (string, bool) {
	if len(v.Text) >= s.MinPageText || (v.Text != "" && v.FromFallback) {
		return extract.FormatPage(page, v.Text, false), false
	}

	if v.ImageURL == "" || s.Images == nil {
		return "", false
	}

	img, err := s.Images.Image(ctx, v.ImageURL, m.URL)
	if err != nil {
		s.Log.Debugf("page image %s: %v\n", v.ImageURL, err)
		return "", false
	}

	text, err := s.OCR.Text(ctx, img)
	if err != nil {
		if !errors.Is(err, extract.ErrOCRDisabled) {
			s.Log.Debugf("ocr on %s: %v\n", v.ImageURL, err)
		}
		return "", false
	}
	if len(text) < 10 {
		return "", false
	}

	return extract.FormatPage(page, text, true), true
}

// spoolFront writes the title/subtitle/description/TOC block captured from
// page one.
func (s *Scraper) spoolFront(m catalog.Manual, v *viewer.View) error {
	b := extract.NewBuilder()

	title := v.Title
	if title == "" {
		title = m.Brand + " " + m.Model
	}
	b.Header(title)
	b.Subtitle(v.Subtitle)
	b.Description(v.Description)

	items := make([]extract.TOCItem, 0, len(v.TOC))
	for _, e := range v.TOC {
		items = append(items, extract.TOCItem{Page: e.Page, Title: e.Title})
	}
	b.TOC(items)

	return s.Spool.Append(m.URL, b.String())
}

func (s *Scraper) fetchPage(ctx context.Context, manualURL string, page int) (*viewer.View, error) {
	if s.Gate != nil {
		if err := s.Gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	v, err := s.Fetch.Fetch(ctx, manualURL, page)
	if err != nil {
		if s.Breaker != nil && s.Breaker.Failure() {
			s.Log.Warnf("breaker tripped, cooling down\n")
			if werr := s.Breaker.Wait(ctx); werr != nil {
				return nil, werr
			}
			s.relaxGate()
		}
		return nil, err
	}

	if s.Breaker != nil {
		s.Breaker.Success()
	}

	return v, nil
}

// relaxGate widens the gate's floor once the breaker has tripped, so the
// worker resumes at the slower per-request delay.
func (s *Scraper) relaxGate() {
	type floored interface {
		Floor() time.Duration
		SetFloor(time.Duration)
	}

	if s.Breaker == nil {
		return
	}
	if g, ok := s.Gate.(floored); ok {
		g.SetFloor(s.Breaker.Floor(g.Floor()))
	}
}

func (s *Scraper) record(url string, st progress.Status) {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.Mark(url, st); err != nil {
		s.Log.Errorf("progress write: %v\n", err)
	}
}

func (s *Scraper) markPartial(url string, nextPage int) {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.MarkPartial(url, nextPage); err != nil {
		s.Log.Errorf("progress write: %v\n", err)
	}
}

func humanChars(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk chars", float64(n)/1000)
	}
	return fmt.Sprintf("%d chars", n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
