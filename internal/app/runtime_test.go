package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/logging"
	"github.com/skobkin/myolink/internal/persistence"
)

func isolateUserDirs(t *testing.T) (string, string) {
	t.Helper()
	configHome := filepath.Join(t.TempDir(), "cfg")
	cacheHome := filepath.Join(t.TempDir(), "cache")
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("XDG_CACHE_HOME", cacheHome)
	t.Setenv("LOCALAPPDATA", cacheHome)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	return configHome, cacheHome
}

func serialOverride(port string) func(*config.AppConfig) {
	return func(cfg *config.AppConfig) {
		cfg.Connection.Connector = config.ConnectorSerial
		cfg.Connection.SerialPort = port
	}
}

func TestInitializeRecordsSavedSessionsInCatalog(t *testing.T) {
	isolateUserDirs(t)
	sender := newCollectingNotificationSender()

	rt, err := Initialize(context.Background(), InitOptions{
		Notifier: sender,
		Override: serialOverride("/dev/ttyACM0"),
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	dbPath := rt.Core.Paths.DBFile

	status, known := rt.CurrentConnStatus()
	if !known || status.State != connectors.ConnectionStateDisconnected || status.Target != "/dev/ttyACM0" {
		t.Fatalf("unexpected initial status: %+v (known=%v)", status, known)
	}

	saved := time.UnixMilli(1_760_000_000_000)
	rt.Core.Bus.Publish(connectors.TopicSessionSaved, domain.SessionSaved{Recording: domain.Recording{
		ID:        "20251009T085320-cafe",
		Path:      filepath.Join(rt.Core.Paths.RecordingsDir, "myo_20251009T085320-cafe.myor"),
		Device:    "/dev/ttyACM0",
		StartedAt: saved.Add(-time.Minute),
		SavedAt:   saved,
		Counts:    domain.NewCounts(),
	}})
	sender.waitForCount(t, 1)

	if err := rt.Close(); err != nil {
		t.Fatalf("close runtime: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	db, err := persistence.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen catalog: %v", err)
	}
	defer func() { _ = db.Close() }()
	list, err := persistence.NewRecordingRepo(db).ListSortedBySavedAt(context.Background())
	if err != nil {
		t.Fatalf("list recordings: %v", err)
	}
	if len(list) != 1 || list[0].ID != "20251009T085320-cafe" {
		t.Fatalf("expected saved session in catalog, got %+v", list)
	}
}

func TestRuntimeCatalogSurvivesParentCancellation(t *testing.T) {
	isolateUserDirs(t)

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := Initialize(ctx, InitOptions{
		Notifier: newCollectingNotificationSender(),
		Override: serialOverride("/dev/ttyACM0"),
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	dbPath := rt.Core.Paths.DBFile

	// an interrupt cancels the command context before the session is saved
	cancel()
	time.Sleep(20 * time.Millisecond)

	saved := time.UnixMilli(1_760_000_000_000)
	rt.Core.Bus.Publish(connectors.TopicSessionSaved, domain.SessionSaved{Recording: domain.Recording{
		ID:        "20251009T085320-beef",
		Path:      filepath.Join(rt.Core.Paths.RecordingsDir, "myo_20251009T085320-beef.myor"),
		StartedAt: saved.Add(-time.Minute),
		SavedAt:   saved,
		Counts:    domain.NewCounts(),
	}})

	if err := rt.Close(); err != nil {
		t.Fatalf("close runtime: %v", err)
	}

	db, err := persistence.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen catalog: %v", err)
	}
	defer func() { _ = db.Close() }()
	list, err := persistence.NewRecordingRepo(db).ListSortedBySavedAt(context.Background())
	if err != nil {
		t.Fatalf("list recordings: %v", err)
	}
	if len(list) != 1 || list[0].ID != "20251009T085320-beef" {
		t.Fatalf("expected session saved after cancel in catalog, got %+v", list)
	}
}

func TestInitializeRejectsInvalidOverride(t *testing.T) {
	isolateUserDirs(t)

	_, err := Initialize(context.Background(), InitOptions{
		Override: func(cfg *config.AppConfig) { cfg.Logging.Format = "xml" },
	})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestRuntimeNewSessionRequiresTarget(t *testing.T) {
	isolateUserDirs(t)

	rt, err := Initialize(context.Background(), InitOptions{
		Notifier: newCollectingNotificationSender(),
		Override: serialOverride(""),
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	if _, err := rt.NewSession(); err == nil || !strings.Contains(err.Error(), "serial port") {
		t.Fatalf("expected missing port error, got %v", err)
	}

	next := rt.CurrentConfig()
	next.Connection.SerialPort = "/dev/ttyUSB3"
	if err := rt.SaveAndApplyConfig(next); err != nil {
		t.Fatalf("save and apply config: %v", err)
	}
	s, err := rt.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	stale, err := rt.StaleBuffers()
	if err != nil {
		t.Fatalf("stale buffers: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected the live session buffer dir, got %v", stale)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if stale, _ := rt.StaleBuffers(); len(stale) != 0 {
		t.Fatalf("expected closed session to purge its buffers, got %v", stale)
	}
}

func TestRuntimeNewSessionLocksTarget(t *testing.T) {
	isolateUserDirs(t)

	newRuntime := func() *Runtime {
		rt, err := Initialize(context.Background(), InitOptions{
			Notifier: newCollectingNotificationSender(),
			Override: serialOverride("/dev/ttyUSB5"),
		})
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}
		t.Cleanup(func() { _ = rt.Close() })
		return rt
	}
	first, second := newRuntime(), newRuntime()

	s, err := first.NewSession()
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	if _, err := second.NewSession(); err == nil || !strings.Contains(err.Error(), "another recording") {
		t.Fatalf("expected busy target error, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close session: %v", err)
	}

	s2, err := second.NewSession()
	if err != nil {
		t.Fatalf("session after release: %v", err)
	}
	_ = s2.Close()
}

func TestRuntimeSaveAndApplyConfig_SwitchesTransportOnlyOnChange(t *testing.T) {
	rt := newRuntimeForSaveConfigTests(t)
	before := rt.Connectivity.ConnectionTransport.current()

	next := rt.CurrentConfig()
	next.Logging.Level = "debug"
	if err := rt.SaveAndApplyConfig(next); err != nil {
		t.Fatalf("save and apply config: %v", err)
	}
	if rt.Connectivity.ConnectionTransport.current() != before {
		t.Fatalf("transport must be kept when the connection is unchanged")
	}

	next.Connection.BluetoothAddress = "C0:FF:EE:00:11:22"
	if err := rt.SaveAndApplyConfig(next); err != nil {
		t.Fatalf("save and apply config: %v", err)
	}
	if rt.Connectivity.ConnectionTransport.current() != before {
		t.Fatalf("transport must be kept when only the address changes")
	}
	if status, _ := rt.CurrentConnStatus(); status.Target != "C0:FF:EE:00:11:22" {
		t.Fatalf("expected status to follow the new address, got %+v", status)
	}

	next.Connection.Connector = config.ConnectorSerial
	next.Connection.SerialPort = "/dev/ttyUSB0"
	if err := rt.SaveAndApplyConfig(next); err != nil {
		t.Fatalf("save and apply config: %v", err)
	}
	if got := rt.Connectivity.ConnectionTransport.Name(); got != "serial" {
		t.Fatalf("expected serial transport after switch, got %q", got)
	}
	status, _ := rt.CurrentConnStatus()
	if status.TransportName != "serial" || status.Target != "/dev/ttyUSB0" {
		t.Fatalf("expected status reset for new connection, got %+v", status)
	}

	loaded, err := config.Load(rt.Core.Paths.ConfigFile)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if loaded.Connection.SerialPort != "/dev/ttyUSB0" || loaded.Logging.Level != "debug" {
		t.Fatalf("config was not persisted: %+v", loaded)
	}
}

func TestRuntimeSaveAndApplyConfig_RejectsInvalid(t *testing.T) {
	rt := newRuntimeForSaveConfigTests(t)

	next := rt.CurrentConfig()
	next.Connection.Connector = "ip"
	if err := rt.SaveAndApplyConfig(next); err == nil {
		t.Fatalf("expected validation error")
	}
	if rt.CurrentConfig().Connection.Connector != config.ConnectorBluetooth {
		t.Fatalf("rejected config must not be applied")
	}
}

func newRuntimeForSaveConfigTests(t *testing.T) *Runtime {
	t.Helper()

	initial := config.Default()
	initial.Connection.BluetoothAddress = "AA:BB:CC:DD:EE:FF"

	connTr, err := NewConnectionTransport(initial.Connection)
	if err != nil {
		t.Fatalf("new connection transport: %v", err)
	}

	logMgr := logging.NewManagerWithOutput(&strings.Builder{})
	t.Cleanup(func() {
		_ = logMgr.Close()
	})

	return &Runtime{
		Core: RuntimeCore{
			Paths: Paths{
				ConfigFile: filepath.Join(t.TempDir(), "config.json"),
				LogFile:    filepath.Join(t.TempDir(), "app.log"),
			},
			Config:     initial,
			LogManager: logMgr,
		},
		Connectivity: RuntimeConnectivity{
			ConnectionTransport: connTr,
		},
	}
}

func TestRuntimePruneBuffers_RemovesOnlySessionDirs(t *testing.T) {
	_, cacheHome := isolateUserDirs(t)

	buffers := filepath.Join(cacheHome, Name, BuffersDir)
	stale := filepath.Join(buffers, "session-20250101T000000-ab-123")
	if err := os.MkdirAll(stale, 0o750); err != nil {
		t.Fatalf("create stale session dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "acc.buf"), []byte("data"), 0o600); err != nil {
		t.Fatalf("create stale buffer: %v", err)
	}
	keep := filepath.Join(buffers, "notes.txt")
	if err := os.WriteFile(keep, []byte("keep"), 0o600); err != nil {
		t.Fatalf("create unrelated file: %v", err)
	}

	rt := &Runtime{Core: RuntimeCore{Paths: Paths{BuffersDir: buffers}}}
	removed, err := rt.PruneBuffers()
	if err != nil {
		t.Fatalf("prune buffers: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed dir, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale dir removed, err=%v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("unrelated file must stay: %v", err)
	}
}

func TestRuntimePruneBuffers_EmptyPathFails(t *testing.T) {
	rt := &Runtime{Core: RuntimeCore{Paths: Paths{}}}

	_, err := rt.PruneBuffers()
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestRuntimePruneBuffers_OutsideAppCacheDirFails(t *testing.T) {
	isolateUserDirs(t)

	outsideDir := filepath.Join(t.TempDir(), "outside")
	sentinel := filepath.Join(outsideDir, "session-keep")
	if err := os.MkdirAll(sentinel, 0o750); err != nil {
		t.Fatalf("create outside dir: %v", err)
	}

	rt := &Runtime{Core: RuntimeCore{Paths: Paths{BuffersDir: outsideDir}}}
	_, err := rt.PruneBuffers()
	if err == nil || !strings.Contains(err.Error(), "outside app cache dir") {
		t.Fatalf("expected outside cache dir error, got %v", err)
	}
	if _, statErr := os.Stat(sentinel); statErr != nil {
		t.Fatalf("expected sentinel to remain untouched, err=%v", statErr)
	}
}
