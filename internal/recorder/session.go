// Package recorder runs one recording session: payload intake, decoding,
// aggregation, buffered writes, and the save or discard at the end.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/decoder"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/persistence"
	"github.com/skobkin/myolink/internal/recordstore"
	"github.com/skobkin/myolink/internal/session"
)

const DefaultQueueSize = 4096

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrSessionClosed  = errors.New("session closed")
)

// Link is the part of the connection controller a session drives.
type Link interface {
	Supervise(ctx context.Context)
	Connect(address string) bool
	Disconnect() error
}

// TargetLock is held for the lifetime of a session and released by Close.
type TargetLock interface {
	Release() error
}

type Deps struct {
	Logger *slog.Logger
	Bus    bus.MessageBus
	Link   Link
	// Lock is optional.
	Lock TargetLock
}

type Options struct {
	Address    string
	Device     string
	BufferRoot string
	OutputDir  string
	QueueSize  int
	// KeepFailedBuffers leaves the buffers on disk when Close follows a
	// failed Save.
	KeepFailedBuffers bool
	Now               func() time.Time
}

// Session is the live recording resource. It is created on viewer entry and
// ends with Save (commit) or Close (purge unless saved).
type Session struct {
	logger *slog.Logger
	bus    bus.MessageBus
	link   Link
	lock   TargetLock
	opts   Options

	aggregator *session.Aggregator
	store      *recordstore.Store
	writer     *persistence.WriterQueue

	mu            sync.Mutex
	started       bool
	saved         bool
	saveFailed    bool
	closed        bool
	result        recordstore.Result
	stopSupervise context.CancelFunc
	stopIntake    context.CancelFunc
	intake        *errgroup.Group
	stopWriter    context.CancelFunc
	writerRunning bool
}

func New(deps Deps, opts Options) (*Session, error) {
	if deps.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "recorder")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	start := opts.Now()
	store, err := recordstore.Create(opts.BufferRoot, recordstore.Options{
		OutputDir: opts.OutputDir,
		Device:    opts.Device,
		StartedAt: start,
		Now:       opts.Now,
		Logger:    deps.Logger.With("subsystem", "store"),
	})
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	s := &Session{
		logger:     deps.Logger,
		bus:        deps.Bus,
		link:       deps.Link,
		lock:       deps.Lock,
		opts:       opts,
		aggregator: session.NewAggregator(start, opts.Now),
		store:      store,
		writer: persistence.NewWriterQueueWithOptions(deps.Logger.With("subsystem", "writer"), persistence.WriterOptions{
			Capacity:     opts.QueueSize,
			MaxAttempts:  1,
			DropWhenFull: true,
		}),
	}
	writerCtx, stopWriter := context.WithCancel(context.Background())
	s.writer.Start(writerCtx)
	s.stopWriter = stopWriter
	s.writerRunning = true

	return s, nil
}

func (s *Session) ID() string {
	return s.store.SessionID()
}

func (s *Session) StartedAt() time.Time {
	return s.aggregator.StartTime()
}

func (s *Session) Counts() domain.Counts {
	return s.aggregator.Counts()
}

func (s *Session) EMGDisplayCount() int64 {
	return s.aggregator.EMGDisplayCount()
}

// Result returns the committed record file once Save succeeded.
func (s *Session) Result() (recordstore.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.saved
}

// DroppedWrites reports records rejected by the full writer queue.
func (s *Session) DroppedWrites() int64 {
	return s.writer.Dropped()
}

// Start begins payload intake and connects the link under supervision of
// ctx. Cancelling ctx stops reconnect attempts but does not save or discard.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	intakeCtx, stopIntake := context.WithCancel(ctx)
	sub := s.bus.Subscribe(connectors.TopicSensorPayload)
	g := &errgroup.Group{}
	g.Go(func() error {
		bus.Consume(intakeCtx, s.bus, sub, connectors.TopicSensorPayload, func(ev connectors.RawPayloadEvent) {
			s.HandlePayload(ev.Payload)
		})
		return nil
	})
	s.intake = g
	s.stopIntake = stopIntake

	superviseCtx, stopSupervise := context.WithCancel(ctx)
	s.stopSupervise = stopSupervise
	s.link.Supervise(superviseCtx)

	s.logger.Info("session started", "session_id", s.ID(), "address", s.opts.Address)
	s.link.Connect(s.opts.Address)

	return nil
}

// HandlePayload decodes and aggregates one payload and schedules the
// resulting record for buffering.
func (s *Session) HandlePayload(p domain.RawPayload) {
	sample, err := decoder.Decode(p.Channel, p.Bytes)
	if err != nil {
		s.logger.Debug("dropping malformed payload", "channel", p.Channel, "len", len(p.Bytes), "error", err)
		s.bus.Publish(connectors.TopicDecodeFailure, connectors.DecodeFailure{
			Channel: p.Channel,
			Len:     len(p.Bytes),
			Err:     err.Error(),
		})
		return
	}

	rec, ok := s.aggregator.Ingest(p.Channel, sample)
	if !ok {
		return
	}

	s.bus.Publish(connectors.TopicRecord, rec)
	s.bus.Publish(connectors.TopicCounts, domain.CountsUpdate{
		SessionID: s.ID(),
		Counts:    s.aggregator.Counts(),
		At:        s.opts.Now(),
	})
	s.writer.Enqueue("append_"+rec.Group.String(), func(context.Context) error {
		return s.store.AppendSynced(rec)
	})
}

// Save stops intake, drains pending writes and commits the session to a
// record file. A failed save leaves the session open for another Save or
// Close.
func (s *Session) Save(ctx context.Context) (recordstore.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return recordstore.Result{}, ErrSessionClosed
	}
	if s.saved {
		return recordstore.Result{}, recordstore.ErrFinalized
	}

	s.haltIntakeLocked()
	if err := s.drainWriterLocked(ctx); err != nil {
		return recordstore.Result{}, err
	}

	counts := s.aggregator.Counts()
	res, err := s.store.Finalize(counts)
	if err != nil {
		s.logger.Error("session save failed", "session_id", s.ID(), "error", err)
		s.saveFailed = true
		return recordstore.Result{}, err
	}
	s.saved = true
	s.result = res

	s.bus.Publish(connectors.TopicSessionSaved, domain.SessionSaved{Recording: domain.Recording{
		ID:        res.Header.SessionID,
		Path:      res.Path,
		Device:    res.Header.Device,
		StartedAt: time.UnixMilli(res.Header.StartedAt),
		SavedAt:   time.UnixMilli(res.Header.SavedAt),
		Counts:    res.Header.Counts(),
		SizeBytes: res.SizeBytes,
	}})
	if dropped := s.writer.Dropped(); dropped > 0 {
		s.logger.Warn("session saved with dropped records", "session_id", s.ID(), "dropped", dropped)
	}

	return res, nil
}

// Close tears the session down: reconnects stop, the link is disconnected,
// and the buffers are discarded unless the session was saved. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs error
	if s.stopSupervise != nil {
		s.stopSupervise()
	}
	if s.started {
		if err := s.link.Disconnect(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("disconnect: %w", err))
		}
	}
	s.haltIntakeLocked()
	s.stopWriterLocked()

	switch {
	case s.saved:
	case s.saveFailed && s.opts.KeepFailedBuffers:
		s.logger.Warn("keeping buffers of unsaved session", "session_id", s.ID(), "dir", s.store.Release())
	default:
		if err := s.store.Discard(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("discard session: %w", err))
		}
	}
	if s.lock != nil {
		if err := s.lock.Release(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("release target lock: %w", err))
		}
	}
	s.logger.Info("session closed", "session_id", s.ID(), "saved", s.saved)

	return errs
}

func (s *Session) haltIntakeLocked() {
	if s.stopIntake == nil {
		return
	}
	s.stopIntake()
	_ = s.intake.Wait()
	s.stopIntake = nil
}

func (s *Session) drainWriterLocked(ctx context.Context) error {
	if !s.writerRunning {
		return nil
	}
	if err := s.writer.Flush(ctx); err != nil {
		return fmt.Errorf("drain writer: %w", err)
	}
	s.stopWriterLocked()
	return nil
}

func (s *Session) stopWriterLocked() {
	if !s.writerRunning {
		return
	}
	s.stopWriter()
	<-s.writer.Done()
	s.writerRunning = false
}
