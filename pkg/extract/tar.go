package extract

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// TarExtractor unpacks tar packages, optionally gzip-compressed. Only regular
// files are extracted; links and device entries are skipped.
type TarExtractor struct {
	Gzip bool
}

// Extract implements deposit.PackageExtractor.
func (e TarExtractor) Extract(ctx context.Context, dir, _ string, r io.Reader) ([]string, error) {
	if e.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	var files []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return nil, fmt.Errorf("%w: %v", ErrUnsafePath, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar: %w", err)
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		rel, err := cleanEntryName(hdr.Name)
		if err != nil {
			return nil, err
		}
		if err := writeEntry(ctx, dir, rel, tr); err != nil {
			return nil, err
		}
		files = append(files, rel)
	}
	if len(files) == 0 {
		return nil, ErrEmptyPackage
	}
	sort.Strings(files)
	return files, nil
}
