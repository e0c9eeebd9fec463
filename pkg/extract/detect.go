package extract

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// MimeDetector detects file formats from content.
type MimeDetector struct{}

// DetectFormats implements deposit.ContentDetector. The most specific media type
// comes first, followed by its ancestors, parameters stripped.
func (MimeDetector) DetectFormats(path string) ([]string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect format of %s: %w", path, err)
	}
	var chain []string
	for ; mt != nil; mt = mt.Parent() {
		chain = append(chain, NormalizeMediaType(mt.String()))
	}
	return chain, nil
}
