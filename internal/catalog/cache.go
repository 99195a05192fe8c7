package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tobyv/manualgrab/internal/util"
)

// Cache is the discovered-URL snapshot written by `manualgrab discover`,
// keyed by category. Scrape runs read it so discovery and extraction can run
// as separate phases.
type Cache map[string][]Manual

func LoadCache(path string) (Cache, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("url cache: %w", err)
	}

	var c Cache
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("url cache: %w", err)
	}

	return c, nil
}

func (c Cache) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("url cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("url cache: %w", err)
	}
	if err := util.WriteFileAtomic(path, b, 0644); err != nil {
		return fmt.Errorf("url cache: %w", err)
	}

	return nil
}

// Select returns the manuals for a category (empty = all categories),
// optionally narrowed to one brand (case-insensitive).
func (c Cache) Select(category, brand string) []Manual {
	var out []Manual
	for cat, manuals := range c {
		if category != "" && cat != category {
			continue
		}
		for _, m := range manuals {
			if brand != "" && !strings.EqualFold(m.Brand, brand) {
				continue
			}
			if m.Category == "" {
				m.Category = cat
			}
			out = append(out, m)
		}
	}

	return out
}

// Brands lists the distinct brands in a category (empty = all), sorted.
func (c Cache) Brands(category string) []string {
	seen := map[string]bool{}
	var out []string

	for cat, manuals := range c {
		if category != "" && cat != category {
			continue
		}
		for _, m := range manuals {
			if !seen[m.Brand] {
				seen[m.Brand] = true
				out = append(out, m.Brand)
			}
		}
	}

	sort.Strings(out)
	return out
}
