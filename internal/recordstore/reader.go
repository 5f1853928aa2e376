package recordstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/skobkin/myolink/internal/domain"
)

// File is a fully parsed and verified record file.
type File struct {
	Header  Header
	Streams map[domain.ChannelKind][]Record
}

// ReadFile parses the record file at path and verifies every stream against
// its digest, byte length and sample count.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	return Read(bufio.NewReader(f))
}

// ReadHeaderFile reads only the header of the record file at path.
func ReadHeaderFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open record file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	return ReadHeader(bufio.NewReader(f))
}

// Read parses a record file from r.
func Read(r io.Reader) (*File, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	out := &File{Header: header, Streams: make(map[domain.ChannelKind][]Record, len(header.Streams))}
	for _, info := range header.Streams {
		if err := checkStreamInfo(info); err != nil {
			return nil, err
		}
		if _, dup := out.Streams[info.Channel]; dup {
			return nil, fmt.Errorf("%w: duplicate %s stream", ErrCorrupt, info.Channel)
		}
		records, err := readStream(r, info)
		if err != nil {
			return nil, err
		}
		out.Streams[info.Channel] = records
	}

	return out, nil
}

// checkStreamInfo rejects header values no real stream can have before
// anything is allocated from them.
func checkStreamInfo(info StreamInfo) error {
	if !info.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %d", ErrCorrupt, info.Channel)
	}
	if info.Records < 0 || info.Bytes < 0 || info.Samples < 0 {
		return fmt.Errorf("%w: %s stream has negative sizes", ErrCorrupt, info.Channel)
	}
	if info.Records > info.Bytes/minRecordSize(info.Channel) {
		return fmt.Errorf("%w: %s stream claims %d records in %d bytes", ErrCorrupt, info.Channel, info.Records, info.Bytes)
	}
	return nil
}

func minRecordSize(channel domain.ChannelKind) int64 {
	if channel.IsIMU() {
		return imuRecordSize
	}
	return emgRecordHeadSize
}

func readStream(r io.Reader, info StreamInfo) ([]Record, error) {
	hasher := blake3.New()
	limited := &io.LimitedReader{R: r, N: info.Bytes}
	body := io.TeeReader(limited, hasher)

	records := make([]Record, 0, info.Records)
	var samples int64
	for limited.N > 0 {
		rec, err := decodeRecord(info.Channel, body)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: %s stream truncated", ErrCorrupt, info.Channel)
			}
			return nil, fmt.Errorf("%w: %s stream: %v", ErrCorrupt, info.Channel, err)
		}
		records = append(records, rec)
		if info.Channel.IsIMU() {
			samples++
		} else {
			samples += int64(len(rec.Values))
		}
	}

	if int64(len(records)) != info.Records {
		return nil, fmt.Errorf("%w: %s stream has %d records, header says %d", ErrCorrupt, info.Channel, len(records), info.Records)
	}
	if samples != info.Samples {
		return nil, fmt.Errorf("%w: %s stream has %d samples, header says %d", ErrCorrupt, info.Channel, samples, info.Samples)
	}
	if !bytes.Equal(hasher.Sum(nil), info.Digest) {
		return nil, fmt.Errorf("%w: %s stream digest mismatch", ErrCorrupt, info.Channel)
	}

	return records, nil
}
