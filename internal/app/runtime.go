package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/link"
	"github.com/skobkin/myolink/internal/logging"
	"github.com/skobkin/myolink/internal/notifications"
	"github.com/skobkin/myolink/internal/persistence"
	"github.com/skobkin/myolink/internal/platform"
	"github.com/skobkin/myolink/internal/recorder"
)

// RuntimeCore holds process-wide infrastructure.
type RuntimeCore struct {
	Paths      Paths
	Config     config.AppConfig
	LogManager *logging.Manager
	Bus        *bus.PubSubBus
}

// RuntimeCatalog holds the recording catalog and its write queue.
type RuntimeCatalog struct {
	DB          *sql.DB
	Recordings  *persistence.RecordingRepo
	WriterQueue *persistence.WriterQueue
}

// RuntimeConnectivity holds the sensor link.
type RuntimeConnectivity struct {
	ConnectionTransport *SwitchableTransport
	Link                *link.Controller
}

type InitOptions struct {
	// ConfigFile overrides the default config location.
	ConfigFile string
	// Notifier overrides the desktop notification sender.
	Notifier notifications.Sender
	// Override is applied to the loaded config before anything is built.
	Override func(*config.AppConfig)
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	Core         RuntimeCore
	Catalog      RuntimeCatalog
	Connectivity RuntimeConnectivity

	Notifications *NotificationService

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
	closeOnce       sync.Once
	closeErr        error
}

func Initialize(parent context.Context, opts InitOptions) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	if opts.ConfigFile != "" {
		paths.ConfigFile = opts.ConfigFile
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
		cfg.FillMissingDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// background consumers and the catalog writer stop only in Close, so a
	// session saved after an interrupt still reaches the catalog
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Core: RuntimeCore{
			Paths:  paths,
			Config: cfg,
		},
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.Core.LogManager = logMgr
	slog.Info("starting myolink runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	db, err := persistence.Open(parent, paths.DBFile)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Catalog.DB = db
	rt.Catalog.Recordings = persistence.NewRecordingRepo(db)

	b := bus.New(logMgr.Logger("bus"))
	rt.Core.Bus = b
	rt.setConnStatus(ConnectionStatusFromConfig(cfg.Connection))
	connSub := b.Subscribe(connectors.TopicConnStatus)
	rt.group.Go(func() error {
		bus.Consume(ctx, b, connSub, connectors.TopicConnStatus, rt.setConnStatus)
		return nil
	})

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), CatalogQueueSize)
	writerQueue.Start(ctx)
	rt.Catalog.WriterQueue = writerQueue
	savedSub := b.Subscribe(connectors.TopicSessionSaved)
	rt.group.Go(func() error {
		persistence.RunCatalogProjection(ctx, b, savedSub, writerQueue, rt.Catalog.Recordings)
		return nil
	})

	connTransport, err := NewConnectionTransport(cfg.Connection)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.Connectivity.ConnectionTransport = connTransport
	rt.Connectivity.Link = link.NewController(logMgr.Logger("link"), b, connTransport, link.Options{
		ReconnectInterval: cfg.ReconnectInterval(),
		ConnectTimeout:    cfg.ConnectTimeout(),
	})

	sender := opts.Notifier
	if sender == nil && cfg.Notifications.Enabled {
		sender = notifications.NewDesktopSender(Name, logMgr.Logger("notifications"))
	}
	rt.Notifications = NewNotificationService(b, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))
	rt.Notifications.Start(ctx)

	return rt, nil
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Core.Config
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

// NewSession creates a recording session for the configured sensor and locks
// the target until the session is closed. The caller owns the session and
// must Close it before closing the runtime.
func (r *Runtime) NewSession() (*recorder.Session, error) {
	cfg := r.CurrentConfig()
	if err := cfg.ValidateForRecording(); err != nil {
		return nil, err
	}

	lock, err := platform.AcquireTargetLock(Name, cfg.Target())
	if err != nil {
		if errors.Is(err, platform.ErrTargetBusy) {
			return nil, fmt.Errorf("%s is used by another recording", cfg.Target())
		}
		if !errors.Is(err, platform.ErrTargetLockUnsupported) {
			return nil, err
		}
	}

	s, err := recorder.New(recorder.Deps{
		Logger: r.Core.LogManager.Logger("recorder"),
		Bus:    r.Core.Bus,
		Link:   r.Connectivity.Link,
		Lock:   lock,
	}, recorder.Options{
		Address:           cfg.Target(),
		Device:            ConnectionTarget(cfg.Connection),
		BufferRoot:        r.Core.Paths.BuffersDir,
		OutputDir:         r.Core.Paths.OutputDir(cfg.Recording.OutputDir),
		QueueSize:         cfg.Recording.WriterQueueSize,
		KeepFailedBuffers: cfg.Recording.KeepFailedBuffers,
	})
	if err != nil {
		if lock != nil {
			_ = lock.Release()
		}
		return nil, err
	}

	return s, nil
}

func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Core.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.Core.Config
	r.Core.Config = cfg
	r.mu.Unlock()

	if r.Core.LogManager != nil {
		if err := r.Core.LogManager.Configure(cfg.Logging, r.Core.Paths.LogFile); err != nil {
			return err
		}
	}

	if r.Connectivity.ConnectionTransport != nil && prev.Connection != cfg.Connection {
		rebuilt, err := r.Connectivity.ConnectionTransport.Apply(cfg.Connection)
		if err != nil {
			return err
		}
		if rebuilt && r.Core.LogManager != nil {
			r.Core.LogManager.Logger("app").Info("connection transport rebuilt", "connector", cfg.Connection.Connector)
		}
		r.setConnStatus(ConnectionStatusFromConfig(cfg.Connection))
	}

	return nil
}

// ListRecordings returns the catalog, newest first.
func (r *Runtime) ListRecordings(ctx context.Context) ([]domain.Recording, error) {
	if r.Catalog.Recordings == nil {
		return nil, fmt.Errorf("catalog is not initialized")
	}
	return r.Catalog.Recordings.ListSortedBySavedAt(ctx)
}

// ForgetRecording removes a catalog entry and, when removeFile is set, the
// record file itself.
func (r *Runtime) ForgetRecording(ctx context.Context, id string, removeFile bool) error {
	if r.Catalog.Recordings == nil {
		return fmt.Errorf("catalog is not initialized")
	}
	rec, err := r.Catalog.Recordings.Get(ctx, id)
	if err != nil {
		return err
	}
	if removeFile && rec.Path != "" {
		if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove record file: %w", err)
		}
	}

	return r.Catalog.Recordings.Delete(ctx, id)
}

// ClearCatalog forgets every recording and returns how many entries were
// removed. Record files stay on disk.
func (r *Runtime) ClearCatalog(ctx context.Context) (int64, error) {
	if r.Catalog.DB == nil {
		return 0, fmt.Errorf("database is not initialized")
	}
	n, err := persistence.ClearCatalog(ctx, r.Catalog.DB)
	if err != nil {
		return 0, err
	}
	if r.Core.LogManager != nil {
		r.Core.LogManager.Logger("catalog").Info("recording catalog cleared", "removed", n)
	}

	return n, nil
}

// StaleBuffers lists session buffer directories left behind by crashed or
// failed sessions.
func (r *Runtime) StaleBuffers() ([]string, error) {
	root, err := r.buffersRoot()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read buffers dir: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "session-") {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}

	return dirs, nil
}

// PruneBuffers removes the directories reported by StaleBuffers. Only call
// it while no session is running.
func (r *Runtime) PruneBuffers() (int, error) {
	dirs, err := r.StaleBuffers()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove %s: %w", dir, err)
		}
		removed++
	}
	if removed > 0 {
		slog.Info("stale session buffers removed", "count", removed)
	}

	return removed, nil
}

func (r *Runtime) buffersRoot() (string, error) {
	buffers := strings.TrimSpace(r.Core.Paths.BuffersDir)
	if buffers == "" {
		return "", fmt.Errorf("buffers dir is not configured")
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	appCache := filepath.Clean(filepath.Join(cacheRoot, Name))
	buffers = filepath.Clean(buffers)
	rel, err := filepath.Rel(appCache, buffers)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("buffers dir %q is outside app cache dir", buffers)
	}

	return buffers, nil
}

// Close stops the link, lets pending catalog writes finish and releases
// everything. Sessions must be closed first. Safe to call more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close()
	})
	return r.closeErr
}

func (r *Runtime) close() error {
	var errs error
	if r.Connectivity.Link != nil {
		if err := r.Connectivity.Link.Disconnect(); err != nil {
			errs = errors.Join(errs, err)
		}
	} else if r.Connectivity.ConnectionTransport != nil {
		_ = r.Connectivity.ConnectionTransport.Close()
	}
	// pending events are still delivered to subscribers before their
	// channels close, so the catalog projection sees every saved session
	if r.Core.Bus != nil {
		r.Core.Bus.Close()
	}
	_ = r.group.Wait()
	if r.Catalog.WriterQueue != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), ShutdownFlushLimit)
		if err := r.Catalog.WriterQueue.Flush(flushCtx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("flush catalog writes: %w", err))
		}
		cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Catalog.DB != nil {
		if err := r.Catalog.DB.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	if r.Core.LogManager != nil {
		_ = r.Core.LogManager.Close()
	}

	return errs
}
