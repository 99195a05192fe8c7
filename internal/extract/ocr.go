package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrOCRDisabled is returned by Disabled; callers treat it as "no text for
// this page" rather than a failure.
var ErrOCRDisabled = errors.New("extract: ocr disabled")

// OCR converts a page image to text. The pipeline behind it is a black box;
// the default build ships Disabled and an external command can be plugged in
// through config.
type OCR interface {
	Text(ctx context.Context, image []byte) (string, error)
}

type Disabled struct{}

func (Disabled) Text(context.Context, []byte) (string, error) {
	return "", ErrOCRDisabled
}

// Command runs an external OCR program, image on stdin, text on stdout.
// Typical: NewCommand("tesseract", "stdin", "stdout", "-l", "eng", "--psm", "6").
type Command struct {
	Path string
	Args []string
}

func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args}
}

func (c *Command) Text(ctx context.Context, image []byte) (string, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(image)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("extract: ocr command: %w (%s)", err, strings.TrimSpace(errBuf.String()))
	}

	return strings.TrimSpace(out.String()), nil
}
