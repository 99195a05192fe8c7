// Package sink writes finished manuals to disk: one immutable text file per
// manual, grouped by category and brand.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tobyv/manualgrab/internal/catalog"
	"github.com/tobyv/manualgrab/internal/util"
)

type Writer struct {
	Root string
}

func New(root string) *Writer {
	return &Writer{Root: root}
}

// Path returns where a manual's output file lives:
// <root>/<category>/<Brand>/<Brand>_<Model>_<N>pages.txt
func (w *Writer) Path(m catalog.Manual, totalPages int) string {
	brand := util.SanitizeFilename(m.Brand)
	model := util.SanitizeFilename(m.Model)

	name := fmt.Sprintf("%s_%s_%dpages.txt", brand, model, totalPages)
	if totalPages <= 0 {
		name = fmt.Sprintf("%s_%s.txt", brand, model)
	}

	return filepath.Join(w.Root, m.Category, brand, name)
}

// Exists reports whether the manual was already written by an earlier run.
func (w *Writer) Exists(m catalog.Manual, totalPages int) bool {
	_, err := os.Stat(w.Path(m, totalPages))
	return err == nil
}

// Write persists the assembled manual. The file is created once via
// temp+rename and never mutated afterwards; an existing file is left alone.
func (w *Writer) Write(m catalog.Manual, totalPages int, content string) (string, error) {
	path := w.Path(m, totalPages)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("sink: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Brand: " + m.Brand + "\n")
	sb.WriteString("Model: " + m.Model + "\n")
	sb.WriteString("URL: " + m.URL + "\n")
	fmt.Fprintf(&sb, "Total Pages: %d\n", totalPages)
	sb.WriteString(strings.Repeat("=", 60) + "\n\n")
	sb.WriteString(content)

	if err := util.WriteFileAtomic(path, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("sink: %w", err)
	}

	return path, nil
}
