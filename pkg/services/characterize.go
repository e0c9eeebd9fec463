package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/extract"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// CharacterizationService records the detected format of every package file.
type CharacterizationService struct {
	Detector deposit.ContentDetector
}

// NewCharacterizationService returns a service detecting formats by content.
func NewCharacterizationService() *CharacterizationService {
	return &CharacterizationService{Detector: extract.MimeDetector{}}
}

func (s *CharacterizationService) ID() string { return CharacterizationServiceID }

// Execute implements ingest.Service.
func (s *CharacterizationService) Execute(ctx context.Context, _ string, state *ingest.IngestState) error {
	detector := s.Detector
	if detector == nil {
		detector = extract.MimeDetector{}
	}
	pkg := state.Package()

	for _, rel := range pkg.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		formats, err := detector.DetectFormats(localPath(pkg, rel))
		if err != nil {
			return fmt.Errorf("failed to characterize %s: %w", rel, err)
		}
		if len(formats) == 0 {
			formats = []string{"application/octet-stream"}
		}
		if err := setFileAttr(state, rel, ingest.AttrFileFormat, ingest.AttrTypeMimeType, formats[0]); err != nil {
			return err
		}
		if _, err := state.Events().Record(ctx, ingest.EventTypeCharacterizationFormat,
			formats[0], strings.Join(formats, " > "), rel); err != nil {
			return err
		}
	}
	return nil
}
