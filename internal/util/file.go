package util

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// WriteFileAtomic writes data to a sibling temp file and renames it into
// place, so a crash mid-write never leaves a half-written file behind.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

var reUnderscoreRun = regexp.MustCompile(`_+`)

// SanitizeFilename flattens a brand or model string into a name that is safe
// on every filesystem we care about.
func SanitizeFilename(s string) string {
	repl := []string{
		"<", "_",
		">", "_",
		":", "_",
		"\"", "_",
		"/", "_",
		"\\", "_",
		"|", "_",
		"?", "_",
		"*", "_",
		" ", "_",
	}
	for i := 0; i < len(repl); i += 2 {
		s = strings.ReplaceAll(s, repl[i], repl[i+1])
	}

	clean := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			clean = append(clean, r)
		}
	}
	s = string(clean)
	s = reUnderscoreRun.ReplaceAllString(s, "_")

	return strings.Trim(s, "_")
}
