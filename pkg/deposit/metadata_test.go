package deposit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		want        string
	}{
		{"quoted", `attachment; filename="bag.zip"`, "bag.zip"},
		{"trailing params", `attachment; filename="bag.tar.gz"; size=10`, "bag.tar.gz"},
		{"unterminated", `attachment; filename="bag.zip`, "bag.zip"},
		{"first occurrence wins", `filename="a.zip"; filename="b.zip"`, "a.zip"},
		{"missing", `attachment`, ""},
		{"unquoted is ignored", `attachment; filename=bag.zip`, ""},
		{"empty", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseFileName(tt.disposition); got != tt.want {
				t.Errorf("ParseFileName(%q) = %q, want %q", tt.disposition, got, tt.want)
			}
		})
	}
}

func TestMetadataLookupIgnoresCase(t *testing.T) {
	md := Metadata{
		"content-disposition":      `attachment; filename="bag.zip"`,
		"X-Dcs-Authenticated-User": "alice",
	}
	if got := md.FileName(); got != "bag.zip" {
		t.Errorf("FileName() = %q", got)
	}
	if got := md.User(); got != "alice" {
		t.Errorf("User() = %q", got)
	}
	if got := md.Get(HeaderContentMD5); got != "" {
		t.Errorf("Get(Content-MD5) = %q, want empty", got)
	}
}

func TestDirectoryCleaner(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "dep-1")
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	cleaner := DirectoryCleaner{Root: root}

	if err := cleaner.Clean(context.Background(), dir); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory still exists: %v", err)
	}
	if err := cleaner.Clean(context.Background(), dir); err != nil {
		t.Errorf("second Clean() error = %v", err)
	}

	if err := cleaner.Clean(context.Background(), root); !ingest.IsValidation(err) {
		t.Errorf("Clean(root) error = %v, want validation", err)
	}
	if err := cleaner.Clean(context.Background(), filepath.Join(root, "..", "elsewhere")); !ingest.IsValidation(err) {
		t.Errorf("Clean(outside) error = %v, want validation", err)
	}
}
