package extract

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// FileExtractor stores the deposited stream as one file named after the deposit.
type FileExtractor struct{}

// Extract implements deposit.PackageExtractor.
func (FileExtractor) Extract(ctx context.Context, dir, fileName string, r io.Reader) ([]string, error) {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsafePath, fileName)
	}
	if err := writeEntry(ctx, dir, name, r); err != nil {
		return nil, err
	}
	return []string{name}, nil
}
