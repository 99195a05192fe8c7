// Package extract assembles the per-page extractions of one manual into the
// final plain-text document, and holds the OCR boundary for image-rendered
// pages.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const rule = "================================================================================"
const thinRule = "--------------------------------------------------------------------------------"

type TOCItem struct {
	Page  string
	Title string
}

// Builder accumulates the sections of a manual in order. Output is
// deterministic for a given input sequence.
type Builder struct {
	parts []string
	pages int
	chars int64
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Header(title string) {
	if title == "" {
		return
	}
	b.parts = append(b.parts, rule, strings.ToUpper(title), rule, "")
}

func (b *Builder) Subtitle(s string) {
	if s == "" {
		return
	}
	b.parts = append(b.parts, s, thinRule, "")
}

func (b *Builder) Description(s string) {
	if s == "" {
		return
	}
	b.parts = append(b.parts, "DESCRIPTION:", s, "", thinRule, "")
}

func (b *Builder) TOC(items []TOCItem) {
	if len(items) == 0 {
		return
	}

	b.parts = append(b.parts, "TABLE OF CONTENTS:", "")
	for _, it := range items {
		b.parts = append(b.parts, fmt.Sprintf("  Page %3s: %s", it.Page, it.Title))
	}
	b.parts = append(b.parts, "", thinRule, "")
}

func (b *Builder) Page(n int, text string) {
	b.addPage(n, text, "")
}

// PageOCR records a page whose text came from OCR rather than the viewer
// text region.
func (b *Builder) PageOCR(n int, text string) {
	b.addPage(n, text, " (OCR)")
}

func (b *Builder) addPage(n int, text, marker string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	b.parts = append(b.parts, fmt.Sprintf("--- Page %d%s ---", n, marker), text, "")
	b.pages++
	b.chars += int64(len(text))
}

// FormatPage renders one page section the way Builder does, for callers that
// spool pages to disk incrementally instead of holding them in memory.
func FormatPage(n int, text string, ocr bool) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	marker := ""
	if ocr {
		marker = " (OCR)"
	}

	return fmt.Sprintf("--- Page %d%s ---\n%s\n", n, marker, text)
}

func (b *Builder) Pages() int { return b.pages }

func (b *Builder) Chars() int64 { return b.chars }

// HasPages reports whether s contains at least one page section, as opposed
// to front matter only.
func HasPages(s string) bool {
	return strings.Contains(s, "--- Page ")
}

var reBlankRuns = regexp.MustCompile(`\n\s*\n\s*\n+`)

// Normalize collapses runs of blank lines and guarantees a single trailing
// newline.
func Normalize(s string) string {
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimRight(s, "\n \t") + "\n"
}

// String renders the document with runs of blank lines collapsed.
func (b *Builder) String() string {
	return Normalize(strings.Join(b.parts, "\n"))
}
