package scraper

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// Spool holds the pages captured so far for in-flight manuals, one
// append-only file per manual URL. A worker killed mid-manual loses at most
// the page that was being fetched; everything spooled survives for the next
// run to resume from.
type Spool struct {
	Dir string
}

func NewSpool(dir string) *Spool {
	return &Spool{Dir: dir}
}

func (s *Spool) path(url string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(url))

	return filepath.Join(s.Dir, fmt.Sprintf("%016x.txt", h.Sum64()))
}

func (s *Spool) Append(url, text string) error {
	if text == "" {
		return nil
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("spool: %w", err)
	}

	f, err := os.OpenFile(s.path(url), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}

	_, werr := f.WriteString(text + "\n")
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("spool: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("spool: %w", cerr)
	}

	return nil
}

// Load returns everything spooled for url, or "" when nothing is.
func (s *Spool) Load(url string) (string, error) {
	b, err := os.ReadFile(s.path(url))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("spool: %w", err)
	}

	return string(b), nil
}

func (s *Spool) Clear(url string) error {
	err := os.Remove(s.path(url))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("spool: %w", err)
	}

	return nil
}
