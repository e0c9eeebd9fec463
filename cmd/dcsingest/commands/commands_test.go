package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

const testConfig = `
deposits:
  base_dir: deposits
phases:
  - number: 1
    services: [checksum, characterization]
    pause_after: true
  - number: 2
    services: [policy]
telemetry:
  log_level: error
  metrics: false
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDepositCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "dcsingest.yaml", testConfig)
	pkg := writeFile(t, dir, "hello.txt", "hello, archive\n")

	t.Run("stops at the first pause", func(t *testing.T) {
		out, err := runCommand(t, "deposit", pkg, "-c", cfg, "--json", "--user", "alice")
		if err != nil {
			t.Fatalf("deposit failed: %v\n%s", err, out)
		}
		var info deposit.DepositInfo
		if err := json.Unmarshal([]byte(out), &info); err != nil {
			t.Fatalf("failed to decode output: %v\n%s", err, out)
		}
		if info.Phase.Status != ingest.StatusPaused || info.Phase.Phase != 1 {
			t.Errorf("phase = %v, want paused(1)", info.Phase)
		}
		if info.Document.Type != deposit.DocumentPreIngest || info.Document.PreIngest.FileCount != 1 {
			t.Errorf("document = %+v", info.Document)
		}
		if info.Document.PreIngest.Checksums != 1 {
			t.Errorf("checksums = %d, want 1", info.Document.PreIngest.Checksums)
		}
	})

	t.Run("resume runs to completion", func(t *testing.T) {
		out, err := runCommand(t, "deposit", pkg, "-c", cfg, "--json", "--resume")
		if err != nil {
			t.Fatalf("deposit failed: %v\n%s", err, out)
		}
		var info deposit.DepositInfo
		if err := json.Unmarshal([]byte(out), &info); err != nil {
			t.Fatalf("failed to decode output: %v\n%s", err, out)
		}
		if info.Phase.Status != ingest.StatusSucceeded || !info.Completed || !info.Successful {
			t.Errorf("info = %+v", info)
		}
		if info.Document.Type != deposit.DocumentStatus || len(info.Document.Events) == 0 {
			t.Fatalf("document = %+v", info.Document)
		}
		if first := info.Document.Events[0]; first.Type != ingest.EventTypeDeposit {
			t.Errorf("first event = %s, want %s", first.Type, ingest.EventTypeDeposit)
		}
	})

	t.Run("rejects foreign packaging", func(t *testing.T) {
		_, err := runCommand(t, "deposit", pkg, "-c", cfg, "--packaging", "urn:other")
		if !ingest.IsPackage(err) {
			t.Errorf("error = %v, want package error", err)
		}
	})
}

func TestConfigValidateCommand(t *testing.T) {
	dir := t.TempDir()

	good := writeFile(t, dir, "good.yaml", testConfig)
	out, err := runCommand(t, "config", "validate", good)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok (2 phases)") {
		t.Errorf("output = %q", out)
	}

	bad := writeFile(t, dir, "bad.yaml", "phases:\n  - number: 1\n    services: [virus-scan]\n")
	out, err = runCommand(t, "config", "validate", bad)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, `unknown service "virus-scan"`) {
		t.Errorf("output = %q", out)
	}

	scripted := writeFile(t, dir, "scripted.cue", `
phases: [{number: 1, services: ["script:tagger"]}]
scripts: [{name: "tagger", file: "tagger.star"}]
`)
	if out, err := runCommand(t, "config", "validate", scripted); err != nil {
		t.Errorf("script service rejected: %v\n%s", err, out)
	}
}

func TestArchiveCommandRequiresStore(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "dcsingest.yaml", testConfig)

	if _, err := runCommand(t, "archive", "list", "-c", cfg); err == nil {
		t.Error("expected error without store.path")
	}
}
