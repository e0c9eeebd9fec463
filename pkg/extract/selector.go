package extract

import (
	"fmt"
	"strings"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
)

// Archive media types understood by the selector.
const (
	MediaTypeZip  = "application/zip"
	MediaTypeTar  = "application/x-tar"
	MediaTypeGzip = "application/gzip"
)

var mediaAliases = map[string]string{
	"application/x-zip-compressed": MediaTypeZip,
	"application/x-gzip":           MediaTypeGzip,
	"application/x-gtar":           MediaTypeTar,
	"application/tar":              MediaTypeTar,
	"application/tar+gzip":         MediaTypeGzip,
}

// Selector picks an extractor from the deposited file name, falling back to the
// declared content type, and stores anything unrecognized as a single file.
type Selector struct {
	// Strict rejects packages that are not a recognized archive instead of
	// storing them as a single file.
	Strict bool

	TempDir string
}

// NewSelector returns a lenient selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Select implements deposit.ExtractorSelector.
func (s *Selector) Select(fileName, contentType string) (deposit.PackageExtractor, error) {
	if ex, ok := s.byName(fileName); ok {
		return ex, nil
	}
	if ex, ok := s.byMediaType(contentType); ok {
		return ex, nil
	}
	if s.Strict {
		return nil, fmt.Errorf("unsupported package %q (%s)", fileName, contentType)
	}
	return FileExtractor{}, nil
}

// SelectArchive implements deposit.ExtractorSelector.
func (s *Selector) SelectArchive(formats []string) (deposit.PackageExtractor, bool) {
	for _, f := range formats {
		if ex, ok := s.byMediaType(f); ok {
			return ex, true
		}
	}
	return nil, false
}

func (s *Selector) byName(fileName string) (deposit.PackageExtractor, bool) {
	name := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return ZipExtractor{TempDir: s.TempDir}, true
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return TarExtractor{Gzip: true}, true
	case strings.HasSuffix(name, ".tar"):
		return TarExtractor{}, true
	}
	return nil, false
}

func (s *Selector) byMediaType(mediaType string) (deposit.PackageExtractor, bool) {
	mt := NormalizeMediaType(mediaType)
	if alias, ok := mediaAliases[mt]; ok {
		mt = alias
	}
	switch mt {
	case MediaTypeZip:
		return ZipExtractor{TempDir: s.TempDir}, true
	case MediaTypeTar:
		return TarExtractor{}, true
	case MediaTypeGzip:
		return TarExtractor{Gzip: true}, true
	}
	return nil, false
}

// NormalizeMediaType strips parameters and lowercases a media type.
func NormalizeMediaType(mediaType string) string {
	mt, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
