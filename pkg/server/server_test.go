package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/server"
	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

type fakeDeposits struct {
	depositID  string
	depositErr error
	body       string
	metadata   deposit.Metadata
	packaging  string

	info    map[string]*deposit.DepositInfo
	phase   ingest.PhaseState
	runErr  error
	resumed []string
}

func (f *fakeDeposits) Deposit(_ context.Context, content io.Reader, _, packaging string, metadata deposit.Metadata) (string, error) {
	b, _ := io.ReadAll(content)
	f.body = string(b)
	f.metadata = metadata
	f.packaging = packaging
	return f.depositID, f.depositErr
}

func (f *fakeDeposits) Resume(_ context.Context, depositID string) (ingest.PhaseState, error) {
	f.resumed = append(f.resumed, depositID)
	if _, ok := f.info[depositID]; !ok {
		return ingest.PhaseState{}, ingest.NewNotFoundError(depositID)
	}
	return f.phase, f.runErr
}

func (f *fakeDeposits) Cancel(_ context.Context, depositID string) (ingest.PhaseState, error) {
	if _, ok := f.info[depositID]; !ok {
		return ingest.PhaseState{}, ingest.NewNotFoundError(depositID)
	}
	return ingest.PhaseState{Status: ingest.StatusCancelled}, nil
}

func (f *fakeDeposits) DepositInfo(_ context.Context, depositID string) (*deposit.DepositInfo, error) {
	info, ok := f.info[depositID]
	if !ok {
		return nil, ingest.NewNotFoundError(depositID)
	}
	return info, nil
}

type fakeHealth struct{ err error }

func (h fakeHealth) HealthCheck(context.Context) error { return h.err }

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func pausedInfo(id string) *deposit.DepositInfo {
	return &deposit.DepositInfo{
		DepositID: id,
		Phase:     ingest.PhaseState{Status: ingest.StatusPaused, Phase: 1},
		Document:  deposit.Document{Type: deposit.DocumentPreIngest},
	}
}

func TestCreateDeposit(t *testing.T) {
	fake := &fakeDeposits{depositID: "d-1", info: map[string]*deposit.DepositInfo{"d-1": pausedInfo("d-1")}}
	srv := server.New(server.Config{}, fake)

	rec := do(t, srv.Handler(), http.MethodPost, "/deposits", strings.NewReader("bag bytes"), map[string]string{
		"Content-Disposition":      `attachment; filename="bag.zip"`,
		"X-Dcs-Authenticated-User": "alice",
		"X-Packaging":              deposit.DefaultPackagingProfile,
		"Content-Type":             "application/zip",
		"X-Unrelated":              "dropped",
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/deposits/d-1" {
		t.Errorf("Location = %q", loc)
	}
	resp := decode[server.PhaseResponse](t, rec)
	if resp.DepositID != "d-1" || resp.Phase.Status != ingest.StatusPaused || resp.Error != nil {
		t.Errorf("response = %+v", resp)
	}

	if fake.body != "bag bytes" || fake.packaging != deposit.DefaultPackagingProfile {
		t.Errorf("deposit got body %q packaging %q", fake.body, fake.packaging)
	}
	if fake.metadata.User() != "alice" || fake.metadata.FileName() != "bag.zip" {
		t.Errorf("metadata = %v", fake.metadata)
	}
	if _, ok := fake.metadata["X-Unrelated"]; ok {
		t.Error("unrelated header passed as metadata")
	}
}

func TestCreateDeposit_PhaseFailureStillAccepted(t *testing.T) {
	info := &deposit.DepositInfo{DepositID: "d-2", Phase: ingest.PhaseState{Status: ingest.StatusFailed, Phase: 1}}
	fake := &fakeDeposits{
		depositID:  "d-2",
		depositErr: ingest.NewPhaseFailure("d-2", 1, "checksum", errors.New("disk full")),
		info:       map[string]*deposit.DepositInfo{"d-2": info},
	}
	srv := server.New(server.Config{}, fake)

	rec := do(t, srv.Handler(), http.MethodPost, "/deposits", strings.NewReader("x"), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[server.PhaseResponse](t, rec)
	if resp.Error == nil || resp.Error.Class != string(ingest.ErrorClassPhaseExecution) {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestCreateDeposit_Rejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported packaging", ingest.NewPackageError("", "unsupported packaging", nil).WithCode(ingest.ErrCodeUnsupportedPackage), http.StatusUnsupportedMediaType},
		{"bad archive", ingest.NewPackageError("d-9", "corrupt zip", errors.New("zip: not a valid zip file")), http.StatusUnprocessableEntity},
		{"no content", ingest.NewValidationError("deposit content is required"), http.StatusBadRequest},
		{"allocator down", ingest.NewInternalError("failed to allocate deposit id", errors.New("db locked")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server.New(server.Config{}, &fakeDeposits{depositErr: tt.err})
			rec := do(t, srv.Handler(), http.MethodPost, "/deposits", strings.NewReader("x"), nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			resp := decode[server.ErrorResponse](t, rec)
			if resp.Error.Message == "" {
				t.Error("empty error message")
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(resp.Error.Message, "db locked") {
				t.Errorf("internal cause leaked: %q", resp.Error.Message)
			}
		})
	}
}

func TestCreateDeposit_BodyLimit(t *testing.T) {
	fake := &fakeDeposits{depositID: "d-1", info: map[string]*deposit.DepositInfo{"d-1": pausedInfo("d-1")}}
	srv := server.New(server.Config{MaxUploadBytes: 4}, fake)

	rec := do(t, srv.Handler(), http.MethodPost, "/deposits", strings.NewReader("too large"), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if fake.body != "" {
		t.Error("oversized deposit reached the manager")
	}
}

func TestGetDeposit(t *testing.T) {
	fake := &fakeDeposits{info: map[string]*deposit.DepositInfo{"d-1": pausedInfo("d-1")}}
	srv := server.New(server.Config{}, fake)

	rec := do(t, srv.Handler(), http.MethodGet, "/deposits/d-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	info := decode[deposit.DepositInfo](t, rec)
	if info.DepositID != "d-1" || info.Document.Type != deposit.DocumentPreIngest {
		t.Errorf("info = %+v", info)
	}

	rec = do(t, srv.Handler(), http.MethodGet, "/deposits/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing deposit status = %d", rec.Code)
	}
	if resp := decode[server.ErrorResponse](t, rec); resp.Error.Class != string(ingest.ErrorClassNotFound) {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestResumeAndCancel(t *testing.T) {
	fake := &fakeDeposits{
		info:  map[string]*deposit.DepositInfo{"d-1": pausedInfo("d-1")},
		phase: ingest.PhaseState{Status: ingest.StatusSucceeded, Phase: 2},
	}
	srv := server.New(server.Config{}, fake)

	rec := do(t, srv.Handler(), http.MethodPost, "/deposits/d-1/resume", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
	if resp := decode[server.PhaseResponse](t, rec); resp.Phase.Status != ingest.StatusSucceeded {
		t.Errorf("resume response = %+v", resp)
	}

	fake.runErr = ingest.NewPhaseFailure("d-1", 2, "policy", errors.New("denied")).WithCode(ingest.ErrCodePolicyDenied)
	fake.phase = ingest.PhaseState{Status: ingest.StatusFailed, Phase: 2}
	rec = do(t, srv.Handler(), http.MethodPost, "/deposits/d-1/resume", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed resume status = %d", rec.Code)
	}
	if resp := decode[server.PhaseResponse](t, rec); resp.Error == nil || resp.Error.Code != ingest.ErrCodePolicyDenied {
		t.Errorf("failed resume response = %+v", resp)
	}

	rec = do(t, srv.Handler(), http.MethodDelete, "/deposits/d-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if resp := decode[server.PhaseResponse](t, rec); resp.Phase.Status != ingest.StatusCancelled {
		t.Errorf("cancel response = %+v", resp)
	}

	if rec := do(t, srv.Handler(), http.MethodPost, "/deposits/nope/resume", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("resume missing status = %d", rec.Code)
	}
	if rec := do(t, srv.Handler(), http.MethodDelete, "/deposits/nope", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("cancel missing status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := server.New(server.Config{}, &fakeDeposits{}, server.WithHealthChecker(fakeHealth{}))
	if rec := do(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	srv = server.New(server.Config{}, &fakeDeposits{}, server.WithHealthChecker(fakeHealth{err: errors.New("closed")}))
	if rec := do(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	tel.Metrics.RecordDepositStarted("alice")

	srv := server.New(server.Config{}, &fakeDeposits{}, server.WithTelemetry(tel))
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deposits_started_total") {
		t.Error("metrics output lacks deposits_started_total")
	}

	srv = server.New(server.Config{}, &fakeDeposits{})
	if rec := do(t, srv.Handler(), http.MethodGet, "/metrics", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without telemetry status = %d", rec.Code)
	}
}
