// Package progress persists the ledger of which manuals are finished. The
// ledger is an append-only JSON-lines journal rather than one rewritten JSON
// document: concurrent worker processes appending whole lines under O_APPEND
// cannot lose each other's updates the way read-modify-write of a single
// document can. Replay is last-record-wins per URL; a torn final line from a
// crash mid-append is ignored.
package progress

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	// StatusDone: output written, never fetched again.
	StatusDone Status = "done"
	// StatusSkipped: redirect-detected removal, terminal, never retried.
	StatusSkipped Status = "skipped"
	// StatusFailed: retries exhausted, surfaced for manual follow-up.
	StatusFailed Status = "failed"
	// StatusPartial: some viewer pages captured; Page is where to resume.
	StatusPartial Status = "partial"
)

type Record struct {
	URL    string    `json:"url"`
	Status Status    `json:"status"`
	Page   int       `json:"page,omitempty"`
	Time   time.Time `json:"ts"`
}

var ErrClosed = errors.New("progress: journal closed")

type Journal struct {
	path string

	mu    sync.Mutex
	f     *os.File
	state map[string]Record
}

// Open replays the journal at path (creating it if needed) and leaves it open
// for appending.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("progress: %w", err)
		}
	}

	state, err := replay(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}

	// Heal a torn tail: without this, the next append lands on the same line
	// as the half-written record and both are lost on the following replay.
	if st, serr := f.Stat(); serr == nil && st.Size() > 0 {
		buf := make([]byte, 1)
		if _, rerr := f.ReadAt(buf, st.Size()-1); rerr == nil && buf[0] != '\n' {
			if _, werr := f.Write([]byte{'\n'}); werr != nil {
				_ = f.Close()
				return nil, fmt.Errorf("progress: %w", werr)
			}
		}
	}

	return &Journal{path: path, f: f, state: state}, nil
}

func replay(path string) (map[string]Record, error) {
	state := make(map[string]Record)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil || rec.URL == "" {
			// torn or garbage line, typically a crash mid-append
			continue
		}
		state[rec.URL] = rec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}

	return state, nil
}

func (j *Journal) Mark(url string, st Status) error {
	return j.append(Record{URL: url, Status: st, Time: time.Now().UTC()})
}

// MarkPartial records that pages before nextPage are spooled, so a future run
// resumes the manual there instead of refetching from page 1.
func (j *Journal) MarkPartial(url string, nextPage int) error {
	return j.append(Record{URL: url, Status: StatusPartial, Page: nextPage, Time: time.Now().UTC()})
}

func (j *Journal) append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return ErrClosed
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	b = append(b, '\n')

	if _, err := j.f.Write(b); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("progress: %w", err)
	}

	j.state[rec.URL] = rec
	return nil
}

func (j *Journal) Status(url string) (Status, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.state[url]
	return rec.Status, ok
}

// Terminal reports whether url needs no further work: done, skipped, and
// failed are all end states.
func (j *Journal) Terminal(url string) bool {
	st, ok := j.Status(url)
	return ok && st != StatusPartial
}

// ResumePage returns the viewer page a partial manual should continue from,
// or 1 when the manual has no partial record.
func (j *Journal) ResumePage(url string) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.state[url]
	if !ok || rec.Status != StatusPartial || rec.Page < 1 {
		return 1
	}
	return rec.Page
}

// FilterPending returns the subset of urls that still need work, preserving
// order.
func (j *Journal) FilterPending(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !j.Terminal(u) {
			out = append(out, u)
		}
	}
	return out
}

func (j *Journal) Counts() map[Status]int {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make(map[Status]int, 4)
	for _, rec := range j.state {
		out[rec.Status]++
	}
	return out
}

// URLsWith returns the URLs currently in status st, sorted for stable output.
func (j *Journal) URLsWith(st Status) []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []string
	for u, rec := range j.state {
		if rec.Status == st {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Compact rewrites the journal as one record per URL via a temp file and an
// atomic rename, then reopens it for appending. Useful after long runs where
// retries have stacked up many superseded lines.
func (j *Journal) Compact() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return ErrClosed
	}

	urls := make([]string, 0, len(j.state))
	for u := range j.state {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".journal-*")
	if err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, u := range urls {
		b, err := json.Marshal(j.state[u])
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("progress: %w", err)
		}
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("progress: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("progress: %w", err)
	}

	_ = j.f.Close()
	if err := os.Rename(tmpName, j.path); err != nil {
		return fmt.Errorf("progress: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		j.f = nil
		return fmt.Errorf("progress: %w", err)
	}
	j.f = f

	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
