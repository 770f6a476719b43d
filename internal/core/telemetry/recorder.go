package telemetry

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// RecordingVersion is written into every flight recording header.
const RecordingVersion = 1

// Recorder consumes snapshots as they are produced.
type Recorder interface {
	Record(s Snapshot) error
	Close() error
}

// Header opens every flight recording.
type Header struct {
	Version    int     `msgpack:"version"`
	RunID      string  `msgpack:"run_id"`
	Dt         float64 `msgpack:"dt"`
	Integrator string  `msgpack:"integrator"`
}

// FileRecorder writes a zstd-compressed stream of msgpack values: one Header
// followed by snapshots.
type FileRecorder struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	zw   *zstd.Encoder
	enc  *msgpack.Encoder
}

// NewFileRecorder creates (or truncates) path and writes the header.
func NewFileRecorder(path string, header Header) (*FileRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create recording %s", path)
	}
	buf := bufio.NewWriter(f)
	zw, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "zstd writer")
	}
	r := &FileRecorder{file: f, buf: buf, zw: zw, enc: msgpack.NewEncoder(zw)}

	if header.Version == 0 {
		header.Version = RecordingVersion
	}
	if err = r.enc.Encode(header); err != nil {
		_ = r.Close()
		return nil, errors.Wrap(err, "write recording header")
	}
	return r, nil
}

func (r *FileRecorder) Record(s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return errors.New("recorder closed")
	}
	return errors.Wrapf(r.enc.Encode(s), "record tick %d", s.Tick)
}

// Close flushes the compressed stream and closes the file. Safe to call twice.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}
	r.enc = nil

	var first error
	keep := func(err error, msg string) {
		if err != nil && first == nil {
			first = errors.Wrap(err, msg)
		}
	}
	keep(r.zw.Close(), "close zstd stream")
	keep(r.buf.Flush(), "flush recording")
	keep(r.file.Close(), "close recording")
	return first
}

// ReadFile decodes a recording produced by FileRecorder.
func ReadFile(path string) (Header, []Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, errors.Wrapf(err, "open recording %s", path)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a recording stream.
func Read(r io.Reader) (Header, []Snapshot, error) {
	zr, err := zstd.NewReader(bufio.NewReader(r), zstd.WithDecoderConcurrency(0))
	if err != nil {
		return Header{}, nil, errors.Wrap(err, "zstd reader")
	}
	defer zr.Close()

	dec := msgpack.NewDecoder(zr)
	var header Header
	if err = dec.Decode(&header); err != nil {
		return Header{}, nil, errors.Wrap(err, "read recording header")
	}
	if header.Version != RecordingVersion {
		return header, nil, errors.Errorf("unsupported recording version %d", header.Version)
	}

	var snapshots []Snapshot
	for {
		var s Snapshot
		if err = dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return header, snapshots, nil
			}
			return header, snapshots, errors.Wrapf(err, "read snapshot %d", len(snapshots))
		}
		snapshots = append(snapshots, s)
	}
}

// MemoryRecorder keeps snapshots in memory.
type MemoryRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
	closed    bool
}

func (r *MemoryRecorder) Record(s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder closed")
	}
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *MemoryRecorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Snapshots returns a copy of everything recorded so far.
func (r *MemoryRecorder) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}

type NopRecorder struct{}

func (NopRecorder) Record(Snapshot) error { return nil }
func (NopRecorder) Close() error          { return nil }

// MultiRecorder fans every snapshot out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(s Snapshot) error {
	var first error
	for _, r := range m {
		if err := r.Record(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiRecorder) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
