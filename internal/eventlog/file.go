package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileFrame is the on-disk envelope around each record. The CRC covers the
// payload bytes so a torn trailing write is distinguishable from corruption
// in the middle of the file.
type fileFrame struct {
	Record
	CRC uint32 `json:"crc"`
}

// FileLog is a newline-delimited JSON segment file, fsynced on every append.
type FileLog struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	seq    uint64
	path   string
	closed bool
}

// OpenFile opens or creates an append-only log file and scans it to recover
// the last assigned sequence number. A decodable prefix followed by a torn
// final line is repaired by truncating the tail.
func OpenFile(path string) (*FileLog, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := &FileLog{f: f, path: path}
	valid, err := l.scan()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(valid); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate torn tail: %w", err)
	}
	if _, err := f.Seek(valid, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	l.w = bufio.NewWriter(f)
	return l, nil
}

// scan walks the file validating frames, records the last good sequence, and
// returns the byte offset after the last valid frame.
func (l *FileLog) scan() (int64, error) {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	reader := bufio.NewReader(l.f)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// Partial final line: torn write, drop it.
			return offset, nil
		}
		if err != nil {
			return 0, fmt.Errorf("scan event log: %w", err)
		}
		var frame fileFrame
		if decodeErr := json.Unmarshal(bytes.TrimSpace(line), &frame); decodeErr != nil || crc32.ChecksumIEEE(frame.Payload) != frame.CRC {
			// A bad final line is a torn write; anything earlier is corruption.
			if _, peekErr := reader.ReadByte(); peekErr == io.EOF {
				return offset, nil
			}
			return 0, fmt.Errorf("%w: frame after sequence %d", ErrCorrupt, l.seq)
		}
		if frame.Sequence != l.seq+1 {
			return 0, fmt.Errorf("%w: sequence gap at %d", ErrCorrupt, frame.Sequence)
		}
		l.seq = frame.Sequence
		offset += int64(len(line))
	}
}

// Append implements Log. The frame is flushed and fsynced before returning.
func (l *FileLog) Append(_ context.Context, kind Kind, payload any) (uint64, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	frame := fileFrame{
		Record: Record{
			Sequence:   l.seq + 1,
			Kind:       kind,
			Payload:    raw,
			AppendedAt: time.Now().UTC(),
		},
		CRC: crc32.ChecksumIEEE(raw),
	}
	line, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("write frame: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return 0, fmt.Errorf("flush frame: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return 0, fmt.Errorf("sync event log: %w", err)
	}
	l.seq = frame.Sequence
	return frame.Sequence, nil
}

// Replay implements Log. Replay reads from a separate handle so appends are
// not disturbed.
func (l *FileLog) Replay(ctx context.Context, since uint64, fn func(Record) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if err := l.w.Flush(); err != nil {
		l.mu.Unlock()
		return err
	}
	path := l.path
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for replay: %w", err)
	}
	defer func() { _ = f.Close() }()
	reader := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("replay read: %w", err)
		}
		var frame fileFrame
		if err := json.Unmarshal(bytes.TrimSpace(line), &frame); err != nil {
			// Torn tail tolerated; scan() already bounded real corruption.
			return nil
		}
		if crc32.ChecksumIEEE(frame.Payload) != frame.CRC {
			return fmt.Errorf("%w: checksum mismatch at sequence %d", ErrCorrupt, frame.Sequence)
		}
		if frame.Sequence <= since {
			continue
		}
		if err := fn(frame.Record); err != nil {
			return err
		}
	}
}

// LastSequence implements Log.
func (l *FileLog) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Close flushes and closes the underlying file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.w.Flush(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

// Path returns the backing file path.
func (l *FileLog) Path() string { return l.path }
