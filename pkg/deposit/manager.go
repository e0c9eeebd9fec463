package deposit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// Config configures a Manager.
type Config struct {
	// BaseDir is the directory under which each deposit gets its own extraction
	// directory named after the deposit id.
	BaseDir string

	// PackagingProfile is the one accepted packaging value.
	PackagingProfile string

	// CacheCapacity bounds the number of in-memory deposits.
	CacheCapacity int

	// IDBatchSize is the number of event ids drawn from the allocator at a time.
	IDBatchSize int
}

func (c *Config) applyDefaults() {
	if c.PackagingProfile == "" {
		c.PackagingProfile = DefaultPackagingProfile
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	if c.IDBatchSize == 0 {
		c.IDBatchSize = ingest.DefaultIDBatchSize
	}
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithAllocator sets the id allocator used for deposit and event ids.
func WithAllocator(a ingest.IdAllocator) Option {
	return func(m *Manager) { m.allocator = a }
}

// WithDetector sets the detector used to find nested archives.
func WithDetector(d ContentDetector) Option {
	return func(m *Manager) { m.detector = d }
}

// WithReporter replaces the default pre-ingest reporter.
func WithReporter(r PreIngestReporter) Option {
	return func(m *Manager) { m.reporter = r }
}

// WithCleaner replaces the default artifact cleaner.
func WithCleaner(c ArtifactCleaner) Option {
	return func(m *Manager) { m.cleaner = c }
}

// WithArchive sets the archive receiving terminal and evicted deposits.
func WithArchive(a EventArchive) Option {
	return func(m *Manager) { m.archive = a }
}

// WithTelemetry attaches logging, metrics, tracing and notifications.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Manager) { m.tel = t }
}

// WithClock sets the clock used for archive timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager accepts deposits and drives them through the phase sequencer.
//
// Phase execution for one deposit id is serialized by a per-id lock. Cancel does
// not wait for that lock: it flips the state's cancellation flag, which the
// sequencer observes at the next phase boundary.
type Manager struct {
	cfg       Config
	sequencer *ingest.PhaseSequencer
	selector  ExtractorSelector
	allocator ingest.IdAllocator
	factory   *ingest.StateFactory
	detector  ContentDetector
	reporter  PreIngestReporter
	cleaner   ArtifactCleaner
	archive   EventArchive
	tel       *telemetry.Telemetry
	now       func() time.Time

	cache  *StateCache
	locks  *keyedMutex
	logger *telemetry.Logger
}

// NewManager creates a Manager. BaseDir, sequencer and selector are required.
func NewManager(cfg Config, sequencer *ingest.PhaseSequencer, selector ExtractorSelector, opts ...Option) (*Manager, error) {
	cfg.applyDefaults()
	if cfg.BaseDir == "" {
		return nil, ingest.NewValidationError("deposit base directory is required").WithOperation("manager.new")
	}
	if sequencer == nil {
		return nil, ingest.NewValidationError("phase sequencer is required").WithOperation("manager.new")
	}
	if selector == nil {
		return nil, ingest.NewValidationError("extractor selector is required").WithOperation("manager.new")
	}
	if cfg.IDBatchSize < 1 {
		return nil, ingest.NewValidationError(fmt.Sprintf("id batch size must be at least 1, got %d", cfg.IDBatchSize)).
			WithOperation("manager.new")
	}

	m := &Manager{
		cfg:       cfg,
		sequencer: sequencer,
		selector:  selector,
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.allocator == nil {
		m.allocator = ingest.UUIDAllocator{}
	}
	if m.reporter == nil {
		m.reporter = SummaryReporter{Now: m.now}
	}
	if m.cleaner == nil {
		m.cleaner = DirectoryCleaner{Root: cfg.BaseDir}
	}
	if m.tel != nil {
		m.logger = m.tel.Logger.NewComponentLogger("deposit")
	} else {
		m.logger = telemetry.Nop()
	}

	m.factory = ingest.NewStateFactory(m.allocator)
	m.factory.IDBatchSize = cfg.IDBatchSize
	m.factory.Now = m.now

	cache, err := NewStateCache(cfg.CacheCapacity, m.evicted)
	if err != nil {
		return nil, err
	}
	m.cache = cache

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, ingest.NewInternalError("failed to create deposit base directory", err).WithOperation("manager.new")
	}
	return m, nil
}

// Cache exposes the deposit state cache.
func (m *Manager) Cache() *StateCache { return m.cache }

// PackagingProfile returns the accepted packaging value.
func (m *Manager) PackagingProfile() string { return m.cfg.PackagingProfile }

func (m *Manager) metrics() *telemetry.Metrics {
	if m.tel == nil {
		return nil
	}
	return m.tel.Metrics
}

func (m *Manager) events() *telemetry.EventPublisher {
	if m.tel == nil {
		return nil
	}
	return m.tel.Events
}

// instrument attaches the manager's telemetry to ctx unless the caller already did.
func (m *Manager) instrument(ctx context.Context) context.Context {
	if m.tel != nil && telemetry.FromTelemetryContext(ctx) == nil {
		return m.tel.WithContext(ctx)
	}
	return ctx
}

// Deposit accepts a package, extracts it and starts ingest.
//
// The deposit id is returned whenever the package was accepted, including when a
// phase then fails; the phase error is returned alongside it. Extraction failures
// purge the deposit directory and return a package error carrying the deposit id.
func (m *Manager) Deposit(ctx context.Context, content io.Reader, contentType, packaging string, metadata Metadata) (string, error) {
	ctx = m.instrument(ctx)

	if packaging == "" || packaging != m.cfg.PackagingProfile {
		err := ingest.NewPackageError("", fmt.Sprintf("unsupported packaging %q", packaging), nil).
			WithCode(ingest.ErrCodeUnsupportedPackage).
			WithOperation("deposit").
			WithDetail("supported", m.cfg.PackagingProfile)
		telemetry.RecordErrorMetrics(ctx, err)
		return "", err
	}
	if content == nil {
		return "", ingest.NewValidationError("deposit content is required").WithOperation("deposit")
	}

	ids, err := m.allocator.Allocate(ctx, 1, "deposit")
	if err != nil {
		return "", ingest.NewInternalError("failed to allocate deposit id", err).WithOperation("deposit")
	}
	if len(ids) != 1 || ids[0] == "" {
		return "", ingest.NewInternalError("allocator returned no deposit id", nil).WithOperation("deposit")
	}
	depositID := ids[0]

	ctx, end := telemetry.WithDepositContext(ctx, "deposit", depositID)
	timer := telemetry.NewTimer()
	logger := telemetry.FromContext(ctx)

	state, err := m.accept(ctx, depositID, content, contentType, packaging, metadata)
	if err != nil {
		end(err)
		telemetry.RecordErrorMetrics(ctx, err)
		logger.WithError(err).Warn("deposit rejected")
		return "", err
	}

	unlock := m.locks.Lock(depositID)
	m.cache.Put(depositID, state)
	m.metrics().SetCacheSize(m.cache.Len())
	m.metrics().RecordDepositStarted(state.User())
	_ = m.events().PublishDepositAccepted(depositID, state.User())
	logger.WithField("files", len(state.Package().Files)).Info("deposit accepted")

	phase, runErr := m.sequencer.StartIngest(ctx, depositID, state)
	m.finish(ctx, state, phase, timer)
	unlock()

	end(runErr)
	return depositID, runErr
}

// accept builds the state of a new deposit and extracts its package.
func (m *Manager) accept(ctx context.Context, depositID string, content io.Reader, contentType, packaging string, metadata Metadata) (*ingest.IngestState, error) {
	user := metadata.User()
	state, err := m.factory.New(depositID, user)
	if err != nil {
		return nil, err
	}

	fileName := metadata.FileName()
	if fileName == "" {
		fileName = DefaultFileName
	}

	log := state.Events()
	if _, err := log.Record(ctx, ingest.EventTypeDeposit, depositID, fileName+" "+contentType); err != nil {
		return nil, err
	}

	set := ingest.NewAttributeSet(ingest.SetNameDeposit,
		ingest.Attribute{Name: ingest.AttrDepositID, Type: ingest.AttrTypeString, Value: depositID},
		ingest.Attribute{Name: ingest.AttrDepositUser, Type: ingest.AttrTypeString, Value: user},
		ingest.Attribute{Name: ingest.AttrDepositFileName, Type: ingest.AttrTypeString, Value: fileName},
		ingest.Attribute{Name: ingest.AttrDepositContentType, Type: ingest.AttrTypeMimeType, Value: contentType},
		ingest.Attribute{Name: ingest.AttrDepositPackaging, Type: ingest.AttrTypeString, Value: packaging},
	)
	if md5 := metadata.Get(HeaderContentMD5); md5 != "" {
		set.Add(ingest.AttrDepositContentMD5, ingest.AttrTypeChecksum, md5)
	}
	if err := state.Attributes().Add(DepositSetKey(depositID), set); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.cfg.BaseDir, depositID)
	pkg, err := m.extract(ctx, depositID, dir, fileName, contentType, content)
	if err != nil {
		if cleanErr := m.cleaner.Clean(ctx, dir); cleanErr != nil {
			telemetry.FromContext(ctx).WithError(cleanErr).Warn("failed to purge rejected deposit")
		}
		return nil, err
	}
	state.SetPackage(pkg)

	if _, err := log.Record(ctx, ingest.EventTypeFileExtraction, strconv.Itoa(len(pkg.Files)), pkg.BaseDir, pkg.Files...); err != nil {
		return nil, err
	}
	return state, nil
}

// DepositSetKey is the attribute store key of a deposit's own attribute set.
func DepositSetKey(depositID string) string {
	return ingest.SetNameDeposit + ":" + depositID
}

// extract unpacks content into dir. A package consisting of a single archive file
// is unpacked once more into a sibling directory which becomes the base directory.
func (m *Manager) extract(ctx context.Context, depositID, dir, fileName, contentType string, content io.Reader) (ingest.Package, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ingest.Package{}, ingest.NewPackageError(depositID, "failed to create deposit directory", err).
			WithOperation("deposit.extract")
	}

	extractor, err := m.selector.Select(fileName, contentType)
	if err != nil {
		return ingest.Package{}, ingest.NewPackageError(depositID, "no extractor for package", err).
			WithCode(ingest.ErrCodeUnsupportedPackage).
			WithOperation("deposit.extract")
	}
	files, err := extractor.Extract(ctx, dir, fileName, content)
	if err != nil {
		return ingest.Package{}, ingest.NewPackageError(depositID, "failed to extract package", err).
			WithOperation("deposit.extract")
	}

	pkg := ingest.Package{ExtractDir: dir, BaseDir: dir, Files: files}
	if len(files) != 1 || m.detector == nil {
		return pkg, nil
	}

	lone := filepath.Join(dir, filepath.FromSlash(files[0]))
	formats, err := m.detector.DetectFormats(lone)
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("format detection failed, keeping package as is")
		return pkg, nil
	}
	nested, ok := m.selector.SelectArchive(formats)
	if !ok {
		return pkg, nil
	}

	nestedDir := lone + ".d"
	f, err := os.Open(lone)
	if err != nil {
		return ingest.Package{}, ingest.NewPackageError(depositID, "failed to open nested archive", err).
			WithOperation("deposit.extract")
	}
	nestedFiles, err := nested.Extract(ctx, nestedDir, filepath.Base(lone), f)
	f.Close()
	if err != nil {
		return ingest.Package{}, ingest.NewPackageError(depositID, "failed to extract nested archive", err).
			WithOperation("deposit.extract")
	}
	if err := os.Remove(lone); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("failed to remove nested archive")
	}

	pkg.BaseDir = nestedDir
	pkg.Files = nestedFiles
	return pkg, nil
}

// Resume continues a paused or failed deposit. A cancelled deposit is reported
// without advancing.
func (m *Manager) Resume(ctx context.Context, depositID string) (ingest.PhaseState, error) {
	ctx = m.instrument(ctx)

	state, ok := m.cache.Get(depositID)
	if !ok {
		return ingest.PhaseState{}, m.notFound(depositID, "resume")
	}

	unlock := m.locks.Lock(depositID)
	defer unlock()

	if state.IsCancelled() {
		return state.Phase(), nil
	}

	ctx, end := telemetry.WithDepositContext(ctx, "resume", depositID)
	timer := telemetry.NewTimer()
	m.metrics().RecordDepositResumed()

	phase, err := m.sequencer.Resume(ctx, depositID, state)
	m.finish(ctx, state, phase, timer)
	end(err)
	return phase, err
}

// Cancel purges a deposit's artifacts and marks it cancelled. Cancelling twice is
// harmless. A failed purge is logged and noted on the ingest.cancel event; the
// deposit is cancelled regardless. A phase already running is not interrupted; the sequencer stops at the
// next phase boundary.
func (m *Manager) Cancel(ctx context.Context, depositID string) (ingest.PhaseState, error) {
	ctx = m.instrument(ctx)
	logger := telemetry.FromContext(ctx).WithDepositID(depositID)

	state, ok := m.cache.Get(depositID)
	if !ok {
		return ingest.PhaseState{}, m.notFound(depositID, "cancel")
	}

	detail := "cancelled by request"
	if err := m.cleaner.Clean(ctx, state.Package().ExtractDir); err != nil {
		detail += "; artifacts not purged: " + err.Error()
		logger.WithError(err).Warn("failed to purge deposit artifacts")
	}

	if state.Cancel() {
		if _, err := state.Events().Record(ctx, ingest.EventTypeIngestCancel, depositID, detail); err != nil {
			logger.WithError(err).Warn("failed to record cancellation")
		}
		_ = m.events().PublishDepositCancelled(depositID)
		m.archiveState(ctx, state)
		logger.Info("deposit cancelled")
	}

	return state.Phase(), nil
}

// DepositInfo reports the status of a deposit. While the deposit is paused the
// document is a pre-ingest report; otherwise it lists the deposit's events in
// chronological order. Deposits no longer cached are read from the archive.
func (m *Manager) DepositInfo(ctx context.Context, depositID string) (*DepositInfo, error) {
	ctx = m.instrument(ctx)

	state, ok := m.cache.Get(depositID)
	if !ok {
		return m.archivedInfo(ctx, depositID)
	}

	// A held lock means a phase is running; its events are still readable.
	unlock, locked := m.locks.TryLock(depositID)
	if locked {
		defer unlock()
	}

	phase := state.Phase()
	info := statusInfo(depositID, phase, state.Events().GetEvents())
	if !locked || phase.Status != ingest.StatusPaused {
		return info, nil
	}

	report, err := m.reporter.Report(ctx, depositID, state)
	if err != nil {
		return nil, ingest.NewInternalError("failed to build pre-ingest report", err).
			WithDeposit(depositID).WithOperation("deposit_info")
	}
	info.Document = Document{Type: DocumentPreIngest, PreIngest: report}
	return info, nil
}

func (m *Manager) archivedInfo(ctx context.Context, depositID string) (*DepositInfo, error) {
	if m.archive == nil {
		return nil, m.notFound(depositID, "deposit_info")
	}
	rec, err := m.archive.LoadDeposit(ctx, depositID)
	if err != nil {
		if ingest.IsNotFound(err) {
			return nil, m.notFound(depositID, "deposit_info")
		}
		return nil, ingest.NewInternalError("failed to load archived deposit", err).
			WithDeposit(depositID).WithOperation("deposit_info")
	}
	return ArchivedInfo(rec), nil
}

func (m *Manager) notFound(depositID, operation string) error {
	return ingest.NewNotFoundError(depositID).WithDeposit(depositID).WithOperation(operation)
}

// finish records the outcome of a run and archives terminal deposits.
func (m *Manager) finish(ctx context.Context, state *ingest.IngestState, phase ingest.PhaseState, timer *telemetry.Timer) {
	m.metrics().RecordDepositFinished(string(phase.Status), timer.Duration())
	if phase.Status.IsTerminal() {
		m.archiveState(ctx, state)
	}
}

func (m *Manager) archiveState(ctx context.Context, state *ingest.IngestState) {
	if m.archive == nil {
		return
	}
	rec := ArchivedDeposit{
		DepositID:  state.DepositID(),
		User:       state.User(),
		Phase:      state.Phase(),
		CreatedAt:  state.CreatedAt(),
		ArchivedAt: m.now(),
		Events:     state.Events().GetEvents(),
	}
	if err := m.archive.ArchiveDeposit(ctx, rec); err != nil {
		telemetry.FromContext(ctx).WithDepositID(rec.DepositID).WithError(err).Warn("failed to archive deposit")
	}
}

// evicted is the cache eviction callback.
func (m *Manager) evicted(depositID string, state *ingest.IngestState) {
	ctx := m.logger.WithContext(context.Background())
	if m.tel != nil {
		ctx = m.tel.WithContext(ctx)
	}
	m.archiveState(ctx, state)
	m.metrics().RecordCacheEviction()
	_ = m.events().PublishDepositEvicted(depositID)
	m.logger.WithDepositID(depositID).Debug("deposit evicted from cache")
}
