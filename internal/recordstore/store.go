// Package recordstore buffers a session's channel streams on disk and commits
// them to a single record file on explicit save.
package recordstore

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/skobkin/myolink/internal/domain"
)

var (
	ErrFinalized = errors.New("session already finalized")
	ErrDiscarded = errors.New("session already discarded")
	ErrClosed    = errors.New("session store closed")
)

type storeState int32

const (
	stateOpen storeState = iota
	stateFinalized
	stateDiscarded
)

const defaultBufferSize = 64 * 1024

type Options struct {
	// OutputDir receives finalized record files.
	OutputDir string
	SessionID string
	Device    string
	StartedAt time.Time
	Now       func() time.Time
	// BufferSize is the per-channel write buffer size.
	BufferSize int
	Logger     *slog.Logger
}

// Result describes a committed record file.
type Result struct {
	Path      string
	Header    Header
	SizeBytes int64
}

// bufferFile is the write side of a channel buffer file.
type bufferFile interface {
	io.Writer
	Truncate(size int64) error
}

type channelBuffer struct {
	mu      sync.Mutex
	channel domain.ChannelKind
	path    string
	file    *os.File
	out     bufferFile
	limit   int
	pending []byte
	// flushed is the file length after the last successful flush.
	flushed int64
	hash    *blake3.Hasher
	samples int64
	records int64
	bytes   int64
}

// flush writes pending records to the buffer file. A failed write is rolled
// back so the file ends at the last complete flush and pending is kept.
func (b *channelBuffer) flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	n, err := b.out.Write(b.pending)
	if err == nil && n != len(b.pending) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			if terr := b.out.Truncate(b.flushed); terr != nil {
				return errors.Join(err, fmt.Errorf("roll back partial write: %w", terr))
			}
		}
		return err
	}
	b.flushed += int64(n)
	b.pending = b.pending[:0]

	return nil
}

// Store owns one session's temporary buffers. Appends are serialized per
// channel and may run concurrently across channels. A store ends either
// finalized or discarded, never both.
type Store struct {
	dir    string
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	state   atomic.Int32
	buffers [domain.ChannelCount]*channelBuffer
}

// Create makes a fresh session directory under tempRoot with one append-only
// buffer file per channel.
func Create(tempRoot string, opts Options) (*Store, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = opts.Now()
	}
	if opts.SessionID == "" {
		opts.SessionID = NewSessionID(opts.StartedAt)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "recordstore")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}

	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create buffer root: %w", err)
	}
	dir, err := os.MkdirTemp(tempRoot, "session-"+opts.SessionID+"-")
	if err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s := &Store{dir: dir, opts: opts, logger: opts.Logger}
	for _, ch := range domain.Channels {
		path := filepath.Join(dir, ch.String()+".buf")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			s.closeFiles()
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("create %s buffer: %w", ch, err)
		}
		s.buffers[ch] = &channelBuffer{
			channel: ch,
			path:    path,
			file:    f,
			out:     f,
			limit:   opts.BufferSize,
			pending: make([]byte, 0, opts.BufferSize),
			hash:    blake3.New(),
		}
	}
	s.logger.Debug("session buffers created", "dir", dir, "session_id", opts.SessionID)

	return s, nil
}

// NewSessionID returns a sortable, mostly unique session identifier.
func NewSessionID(at time.Time) string {
	var suffix [3]byte
	_, _ = rand.Read(suffix[:])
	return at.UTC().Format("20060102T150405") + "-" + hex.EncodeToString(suffix[:])
}

func (s *Store) Dir() string       { return s.dir }
func (s *Store) SessionID() string { return s.opts.SessionID }

// Append adds one record to channel's buffer. Failures are returned as
// *domain.BufferWriteError; only the failing record is dropped and the
// session keeps streaming.
func (s *Store) Append(channel domain.ChannelKind, rec Record) error {
	if !channel.Valid() {
		return &domain.BufferWriteError{Channel: channel, Err: fmt.Errorf("unknown channel")}
	}
	buf := s.buffers[channel]

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if storeState(s.state.Load()) != stateOpen {
		return ErrClosed
	}

	data, err := encodeRecord(channel, rec)
	if err != nil {
		return &domain.BufferWriteError{Channel: channel, Err: err}
	}
	buf.pending = append(buf.pending, data...)
	if len(buf.pending) >= buf.limit {
		if err := buf.flush(); err != nil {
			buf.pending = buf.pending[:len(buf.pending)-len(data)]
			return &domain.BufferWriteError{Channel: channel, Err: err}
		}
	}
	_, _ = buf.hash.Write(data)
	if channel.IsIMU() {
		buf.samples++
	} else {
		buf.samples += int64(len(rec.Values))
	}
	buf.records++
	buf.bytes += int64(len(data))

	return nil
}

// AppendSynced splits rec into its channel records and appends each one.
func (s *Store) AppendSynced(rec domain.SyncedRecord) error {
	var errs error
	for _, cr := range Split(rec) {
		if err := s.Append(cr.Channel, cr.Record); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// Counts returns the sample counts appended so far.
func (s *Store) Counts() domain.Counts {
	counts := domain.NewCounts()
	for _, buf := range s.buffers {
		buf.mu.Lock()
		counts[buf.channel] = buf.samples
		buf.mu.Unlock()
	}
	return counts
}

// Finalize commits the buffers to a record file in the output dir. reported
// carries the aggregator counts stored next to the appended ones. On
// failure the buffers are kept and the store stays open.
func (s *Store) Finalize(reported domain.Counts) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch storeState(s.state.Load()) {
	case stateFinalized:
		return Result{}, ErrFinalized
	case stateDiscarded:
		return Result{}, ErrDiscarded
	}

	for _, buf := range s.buffers {
		buf.mu.Lock()
	}
	defer func() {
		for _, buf := range s.buffers {
			buf.mu.Unlock()
		}
	}()

	header := Header{
		Version:   FormatVersion,
		SessionID: s.opts.SessionID,
		Device:    s.opts.Device,
		StartedAt: s.opts.StartedAt.UnixMilli(),
		SavedAt:   s.opts.Now().UnixMilli(),
		Streams:   make([]StreamInfo, 0, len(s.buffers)),
	}
	for _, buf := range s.buffers {
		if err := buf.flush(); err != nil {
			return Result{}, &domain.FinalizeError{Op: "flush " + buf.channel.String(), Err: err}
		}
		if err := buf.file.Sync(); err != nil {
			return Result{}, &domain.FinalizeError{Op: "sync " + buf.channel.String(), Err: err}
		}
		header.Streams = append(header.Streams, StreamInfo{
			Channel:  buf.channel,
			Samples:  buf.samples,
			Reported: reported[buf.channel],
			Records:  buf.records,
			Bytes:    buf.bytes,
			Digest:   buf.hash.Sum(nil),
		})
	}

	path, size, err := s.commit(header)
	if err != nil {
		return Result{}, err
	}

	s.state.Store(int32(stateFinalized))
	s.closeFiles()
	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Warn("remove session buffers", "dir", s.dir, "error", err)
	}
	s.logger.Info("session finalized", "path", path, "size_bytes", size, "session_id", s.opts.SessionID)

	return Result{Path: path, Header: header, SizeBytes: size}, nil
}

func (s *Store) commit(header Header) (string, int64, error) {
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return "", 0, &domain.FinalizeError{Op: "create output dir", Err: err}
	}
	finalPath := filepath.Join(s.opts.OutputDir, "myo_"+s.opts.SessionID+FileExt)
	if _, err := os.Stat(finalPath); err == nil {
		return "", 0, &domain.FinalizeError{Op: "check target", Err: fmt.Errorf("%s already exists", finalPath)}
	}

	tmp, err := os.CreateTemp(s.opts.OutputDir, ".myor-*.tmp")
	if err != nil {
		return "", 0, &domain.FinalizeError{Op: "create temp file", Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriterSize(tmp, s.opts.BufferSize)
	if err := writePreamble(w, header); err != nil {
		return "", 0, &domain.FinalizeError{Op: "write header", Err: err}
	}
	for i, buf := range s.buffers {
		if _, err := buf.file.Seek(0, io.SeekStart); err != nil {
			return "", 0, &domain.FinalizeError{Op: "rewind " + buf.channel.String(), Err: err}
		}
		n, err := io.Copy(w, buf.file)
		if err != nil {
			return "", 0, &domain.FinalizeError{Op: "copy " + buf.channel.String(), Err: err}
		}
		if n != header.Streams[i].Bytes {
			return "", 0, &domain.FinalizeError{
				Op:  "copy " + buf.channel.String(),
				Err: fmt.Errorf("buffer holds %d bytes, expected %d", n, header.Streams[i].Bytes),
			}
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, &domain.FinalizeError{Op: "flush record file", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, &domain.FinalizeError{Op: "sync record file", Err: err}
	}
	info, err := tmp.Stat()
	if err != nil {
		return "", 0, &domain.FinalizeError{Op: "stat record file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", 0, &domain.FinalizeError{Op: "close record file", Err: err}
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		_ = os.Remove(tmpName)
		committed = true
		return "", 0, &domain.FinalizeError{Op: "rename record file", Err: err}
	}
	committed = true
	syncDir(s.opts.OutputDir)

	return finalPath, info.Size(), nil
}

// Discard drops the session buffers. It is a no-op once the session was
// finalized or discarded.
func (s *Store) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if storeState(s.state.Load()) != stateOpen {
		return nil
	}
	for _, buf := range s.buffers {
		buf.mu.Lock()
	}
	s.state.Store(int32(stateDiscarded))
	for _, buf := range s.buffers {
		buf.mu.Unlock()
	}

	s.closeFiles()
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove session buffers: %w", err)
	}
	s.logger.Info("session discarded", "session_id", s.opts.SessionID)

	return nil
}

// Release closes the buffers but leaves them on disk for manual recovery
// and returns their directory. Later Finalize or Discard calls fail or do
// nothing, like after Discard.
func (s *Store) Release() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if storeState(s.state.Load()) != stateOpen {
		return ""
	}
	for _, buf := range s.buffers {
		buf.mu.Lock()
		if err := buf.flush(); err != nil {
			s.logger.Warn("flush released buffer", "channel", buf.channel, "error", err)
		}
	}
	s.state.Store(int32(stateDiscarded))
	for _, buf := range s.buffers {
		buf.mu.Unlock()
	}
	s.closeFiles()
	s.logger.Warn("session buffers released", "session_id", s.opts.SessionID, "dir", s.dir)

	return s.dir
}

func (s *Store) closeFiles() {
	for _, buf := range s.buffers {
		if buf == nil || buf.file == nil {
			continue
		}
		_ = buf.file.Close()
	}
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
