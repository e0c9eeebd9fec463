package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// ZipExtractor unpacks zip packages. Streams that are not files are spooled to a
// temporary file first, since zip needs random access.
type ZipExtractor struct {
	// TempDir holds spooled packages. Empty means os.TempDir().
	TempDir string
}

// Extract implements deposit.PackageExtractor.
func (e ZipExtractor) Extract(ctx context.Context, dir, _ string, r io.Reader) ([]string, error) {
	ra, size, cleanup, err := e.readerAt(r)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	zr, err := zip.NewReader(ra, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read zip: %w", err)
	}

	var files []string
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !entry.Mode().IsRegular() {
			continue
		}
		rel, err := cleanEntryName(entry.Name)
		if err != nil {
			return nil, err
		}
		if err := extractZipEntry(ctx, dir, rel, entry); err != nil {
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

func extractZipEntry(ctx context.Context, dir, rel string, entry *zip.File) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", entry.Name, err)
	}
	defer rc.Close()
	return writeEntry(ctx, dir, rel, rc)
}

func (e ZipExtractor) readerAt(r io.Reader) (io.ReaderAt, int64, func(), error) {
	if f, ok := r.(*os.File); ok {
		info, err := f.Stat()
		if err == nil && info.Mode().IsRegular() {
			return f, info.Size(), func() {}, nil
		}
	}

	spool, err := os.CreateTemp(e.TempDir, "deposit-*.zip")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to spool zip: %w", err)
	}
	cleanup := func() {
		spool.Close()
		os.Remove(spool.Name())
	}
	size, err := io.Copy(spool, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("failed to spool zip: %w", err)
	}
	return spool, size, cleanup, nil
}
