package services

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// ChecksumAlgorithm names the digest written by ChecksumService.
const ChecksumAlgorithm = "sha256"

// ChecksumService computes a sha256 digest and size for every package file and
// verifies files listed in a manifest-sha256.txt found in the package.
type ChecksumService struct{}

func (ChecksumService) ID() string { return ChecksumServiceID }

// Execute implements ingest.Service.
func (ChecksumService) Execute(ctx context.Context, depositID string, state *ingest.IngestState) error {
	logger := telemetry.FromContext(ctx)
	pkg := state.Package()
	digests := make(map[string]string, len(pkg.Files))

	for _, rel := range pkg.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum, size, err := digestFile(localPath(pkg, rel))
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", rel, err)
		}
		digests[rel] = sum
		value := ChecksumAlgorithm + ":" + sum

		if err := setFileAttr(state, rel, ingest.AttrFileSize, ingest.AttrTypeLong, strconv.FormatInt(size, 10)); err != nil {
			return err
		}
		if err := setFileAttr(state, rel, ingest.AttrFileChecksum, ingest.AttrTypeChecksum, value); err != nil {
			return err
		}
		if _, err := state.Events().Record(ctx, ingest.EventTypeChecksumCalculated, value, ChecksumAlgorithm, rel); err != nil {
			return err
		}
	}

	for _, rel := range pkg.Files {
		if path.Base(rel) != "manifest-sha256.txt" {
			continue
		}
		if err := verifyManifest(pkg, rel, digests); err != nil {
			return err
		}
		logger.Debugf("verified manifest %s", rel)
	}
	return nil
}

func digestFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// verifyManifest checks each "<digest> <path>" line of a BagIt payload manifest.
// Paths are relative to the manifest's directory.
func verifyManifest(pkg ingest.Package, manifest string, digests map[string]string) error {
	f, err := os.Open(localPath(pkg, manifest))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", manifest, err)
	}
	defer f.Close()

	root := path.Dir(manifest)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return fmt.Errorf("%s:%d: malformed manifest line", manifest, line)
		}
		want := strings.ToLower(fields[0])
		rel := path.Join(root, strings.Join(fields[1:], " "))
		got, ok := digests[rel]
		if !ok {
			return fmt.Errorf("%s:%d: %s listed but not in package", manifest, line, rel)
		}
		if got != want {
			return fmt.Errorf("%s:%d: checksum mismatch for %s", manifest, line, rel)
		}
	}
	return scanner.Err()
}
