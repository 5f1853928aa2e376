package recordstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zeebo/blake3"

	"github.com/skobkin/myolink/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	out := filepath.Join(root, "out")
	s, err := Create(filepath.Join(root, "buffers"), Options{
		OutputDir: out,
		SessionID: "test-session",
		Device:    "AA:BB:CC:DD:EE:FF",
		StartedAt: time.UnixMilli(1_700_000_000_000),
		Now:       func() time.Time { return time.UnixMilli(1_700_000_060_000) },
	})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s, out
}

func TestFinalizeHeaderCountsMatchAppendedSamples(t *testing.T) {
	s, out := newTestStore(t)

	synced := []domain.SyncedRecord{
		{ElapsedMS: 5, Group: domain.GroupEMGPair, EMG: &domain.EMGPair{Left: []int16{1, 2, 3}, Right: []int16{4, 5}}},
		{ElapsedMS: 6, Group: domain.GroupACC, IMU: &domain.ImuSample{X: 4096, Y: 8192, Z: 12288}},
		{ElapsedMS: 7, Group: domain.GroupGYR, IMU: &domain.ImuSample{X: -1, Y: 0, Z: 1}},
		{ElapsedMS: 9, Group: domain.GroupEMGPair, EMG: &domain.EMGPair{Left: []int16{}, Right: []int16{7}}},
		{ElapsedMS: 10, Group: domain.GroupACC, IMU: &domain.ImuSample{X: 1, Y: 2, Z: 3}},
	}
	for _, rec := range synced {
		if err := s.AppendSynced(rec); err != nil {
			t.Fatalf("append %+v: %v", rec, err)
		}
	}

	reported := domain.Counts{domain.ChannelEmgLeft: 3, domain.ChannelEmgRight: 3, domain.ChannelAcc: 2, domain.ChannelGyr: 1}
	res, err := s.Finalize(reported)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if filepath.Dir(res.Path) != out {
		t.Fatalf("expected record file in %s, got %s", out, res.Path)
	}
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected session buffers removed, stat err=%v", err)
	}

	file, err := ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read record file: %v", err)
	}
	counts := file.Header.Counts()
	want := domain.Counts{domain.ChannelEmgLeft: 3, domain.ChannelEmgRight: 3, domain.ChannelAcc: 2, domain.ChannelGyr: 1}
	for ch, n := range want {
		if counts[ch] != n {
			t.Fatalf("%s: expected %d samples in header, got %d", ch, n, counts[ch])
		}
		info, _ := file.Header.Stream(ch)
		if info.Reported != reported[ch] {
			t.Fatalf("%s: expected reported %d, got %d", ch, reported[ch], info.Reported)
		}
	}
	if file.Header.Device != "AA:BB:CC:DD:EE:FF" || file.Header.SessionID != "test-session" {
		t.Fatalf("unexpected header metadata: %+v", file.Header)
	}

	acc := file.Streams[domain.ChannelAcc]
	if len(acc) != 2 || acc[0].ElapsedMS != 6 || acc[0].Values[2] != 12288 {
		t.Fatalf("unexpected acc stream: %+v", acc)
	}
	left := file.Streams[domain.ChannelEmgLeft]
	if len(left) != 2 || len(left[0].Values) != 3 || len(left[1].Values) != 0 {
		t.Fatalf("unexpected emg_left stream: %+v", left)
	}
	gyr := file.Streams[domain.ChannelGyr]
	if len(gyr) != 1 || gyr[0].Values[0] != -1 {
		t.Fatalf("unexpected gyr stream: %+v", gyr)
	}

	fi, err := os.Stat(res.Path)
	if err != nil {
		t.Fatalf("stat record file: %v", err)
	}
	if fi.Size() != res.SizeBytes {
		t.Fatalf("expected size %d, got %d", fi.Size(), res.SizeBytes)
	}
}

func TestFinalizeAndDiscardAreExclusive(t *testing.T) {
	t.Run("finalize then discard", func(t *testing.T) {
		s, _ := newTestStore(t)
		if err := s.Append(domain.ChannelAcc, Record{ElapsedMS: 1, Values: []int16{1, 2, 3}}); err != nil {
			t.Fatalf("append: %v", err)
		}
		res, err := s.Finalize(s.Counts())
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if err := s.Discard(); err != nil {
			t.Fatalf("discard after finalize must be a no-op, got %v", err)
		}
		if _, err := os.Stat(res.Path); err != nil {
			t.Fatalf("record file must survive discard: %v", err)
		}
		if _, err := s.Finalize(nil); !errors.Is(err, ErrFinalized) {
			t.Fatalf("expected ErrFinalized, got %v", err)
		}
		if err := s.Append(domain.ChannelAcc, Record{Values: []int16{1, 2, 3}}); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	})

	t.Run("discard then finalize", func(t *testing.T) {
		s, out := newTestStore(t)
		if err := s.Append(domain.ChannelGyr, Record{ElapsedMS: 1, Values: []int16{1, 2, 3}}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := s.Discard(); err != nil {
			t.Fatalf("discard: %v", err)
		}
		if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
			t.Fatalf("expected buffers removed, stat err=%v", err)
		}
		if _, err := s.Finalize(nil); !errors.Is(err, ErrDiscarded) {
			t.Fatalf("expected ErrDiscarded, got %v", err)
		}
		entries, _ := os.ReadDir(out)
		if len(entries) != 0 {
			t.Fatalf("discarded session must not produce files, got %d", len(entries))
		}
		if err := s.Append(domain.ChannelGyr, Record{Values: []int16{1, 2, 3}}); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	})
}

func TestDiscardEmptySession(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Discard(); err != nil {
		t.Fatalf("discard empty session: %v", err)
	}
	if err := s.Discard(); err != nil {
		t.Fatalf("second discard: %v", err)
	}
}

func TestFinalizeFailureKeepsBuffers(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	s, err := Create(filepath.Join(root, "buffers"), Options{OutputDir: blocker, SessionID: "fail"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Append(domain.ChannelAcc, Record{ElapsedMS: 1, Values: []int16{1, 2, 3}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err = s.Finalize(s.Counts())
	var finalizeErr *domain.FinalizeError
	if !errors.As(err, &finalizeErr) {
		t.Fatalf("expected FinalizeError, got %v", err)
	}
	if _, err := os.Stat(s.Dir()); err != nil {
		t.Fatalf("buffers must stay after failed finalize: %v", err)
	}
	if err := s.Append(domain.ChannelAcc, Record{ElapsedMS: 2, Values: []int16{4, 5, 6}}); err != nil {
		t.Fatalf("store must stay open after failed finalize: %v", err)
	}
	if err := s.Discard(); err != nil {
		t.Fatalf("discard after failed finalize: %v", err)
	}
}

// flakyFile writes part of the next failures payloads and then fails, like a
// disk that briefly runs out of space.
type flakyFile struct {
	bufferFile
	failures int
	partial  int
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if f.failures > 0 {
		f.failures--
		n, _ := f.bufferFile.Write(p[:min(f.partial, len(p))])
		return n, errors.New("no space left on device")
	}
	return f.bufferFile.Write(p)
}

func TestAppendRecoversAfterFailedWrite(t *testing.T) {
	root := t.TempDir()
	s, err := Create(filepath.Join(root, "buffers"), Options{
		OutputDir:  filepath.Join(root, "out"),
		SessionID:  "flaky-disk",
		BufferSize: 1,
	})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Discard() })

	if err := s.Append(domain.ChannelGyr, Record{ElapsedMS: 1, Values: []int16{1, 1, 1}}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	gyr := s.buffers[domain.ChannelGyr]
	gyr.out = &flakyFile{bufferFile: gyr.out, failures: 1, partial: 5}

	err = s.Append(domain.ChannelGyr, Record{ElapsedMS: 2, Values: []int16{2, 2, 2}})
	var writeErr *domain.BufferWriteError
	if !errors.As(err, &writeErr) || writeErr.Channel != domain.ChannelGyr {
		t.Fatalf("expected gyr BufferWriteError, got %v", err)
	}
	if err := s.Append(domain.ChannelGyr, Record{ElapsedMS: 3, Values: []int16{3, 3, 3}}); err != nil {
		t.Fatalf("append after a failed write must succeed: %v", err)
	}
	if got := s.Counts()[domain.ChannelGyr]; got != 2 {
		t.Fatalf("expected 2 gyr samples, got %d", got)
	}

	res, err := s.Finalize(s.Counts())
	if err != nil {
		t.Fatalf("finalize after a failed write: %v", err)
	}
	file, err := ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read record file: %v", err)
	}
	records := file.Streams[domain.ChannelGyr]
	if len(records) != 2 || records[0].ElapsedMS != 1 || records[1].ElapsedMS != 3 {
		t.Fatalf("expected records at 1 and 3 ms, got %+v", records)
	}
}

func TestReleaseKeepsBuffersOnDisk(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Append(domain.ChannelGyr, Record{ElapsedMS: 7, Values: []int16{1, 2, 3}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	dir := s.Release()
	if dir != s.Dir() {
		t.Fatalf("expected released dir %q, got %q", s.Dir(), dir)
	}
	info, err := os.Stat(filepath.Join(dir, domain.ChannelGyr.String()+".buf"))
	if err != nil {
		t.Fatalf("released buffer must stay on disk: %v", err)
	}
	if info.Size() != imuRecordSize {
		t.Fatalf("expected flushed buffer of %d bytes, got %d", imuRecordSize, info.Size())
	}
	if _, err := s.Finalize(s.Counts()); !errors.Is(err, ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded after release, got %v", err)
	}
	if got := s.Release(); got != "" {
		t.Fatalf("second release must be a no-op, got %q", got)
	}
}

func TestConcurrentAppendsAcrossChannels(t *testing.T) {
	s, _ := newTestStore(t)

	const perChannel = 200
	var wg sync.WaitGroup
	for _, ch := range domain.Channels {
		wg.Add(1)
		go func(ch domain.ChannelKind) {
			defer wg.Done()
			for i := 0; i < perChannel; i++ {
				values := []int16{int16(i), int16(i), int16(i)}
				if err := s.Append(ch, Record{ElapsedMS: int64(i), Values: values}); err != nil {
					t.Errorf("%s append %d: %v", ch, i, err)
					return
				}
			}
		}(ch)
	}
	wg.Wait()

	res, err := s.Finalize(s.Counts())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	file, err := ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, ch := range domain.Channels {
		records := file.Streams[ch]
		if len(records) != perChannel {
			t.Fatalf("%s: expected %d records, got %d", ch, perChannel, len(records))
		}
		for i, rec := range records {
			if rec.ElapsedMS != int64(i) {
				t.Fatalf("%s: record %d out of order (%d)", ch, i, rec.ElapsedMS)
			}
		}
	}
}

func TestReadFileDetectsCorruption(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Append(domain.ChannelEmgLeft, Record{ElapsedMS: 1, Values: []int16{10, 20, 30}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	res, err := s.Finalize(s.Counts())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(res.Path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	if _, err := ReadFile(res.Path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	if err := os.WriteFile(res.Path, []byte("NOPE\x01\x00\x00\x00\x00"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := ReadHeaderFile(res.Path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for bad magic, got %v", err)
	}
}

func TestReadRejectsImpossibleStreamSizes(t *testing.T) {
	tests := []struct {
		name    string
		streams []StreamInfo
	}{
		{name: "negative records", streams: []StreamInfo{{Channel: domain.ChannelAcc, Records: -1, Bytes: imuRecordSize}}},
		{name: "negative bytes", streams: []StreamInfo{{Channel: domain.ChannelGyr, Records: 1, Bytes: -1}}},
		{name: "negative samples", streams: []StreamInfo{{Channel: domain.ChannelAcc, Samples: -5}}},
		{name: "huge record count", streams: []StreamInfo{{Channel: domain.ChannelEmgLeft, Records: 1 << 40, Bytes: 20}}},
		{name: "more imu records than bytes allow", streams: []StreamInfo{{Channel: domain.ChannelAcc, Records: 2, Bytes: imuRecordSize}}},
		{name: "unknown channel", streams: []StreamInfo{{Channel: domain.ChannelKind(42)}}},
		{
			name: "duplicate channel",
			streams: []StreamInfo{
				{Channel: domain.ChannelAcc, Digest: blake3Sum(nil)},
				{Channel: domain.ChannelAcc, Digest: blake3Sum(nil)},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writePreamble(&buf, Header{Version: FormatVersion, SessionID: "s", Streams: tc.streams}); err != nil {
				t.Fatalf("write header: %v", err)
			}
			buf.Write(make([]byte, 64))

			if _, err := Read(&buf); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func blake3Sum(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}
