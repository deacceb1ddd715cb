package flashsim

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// FileWriter is a dfu.Writer backed by a sparse file, for the daemon: each
// committed segment is written at its bank-relative offset via WriteAt, so
// segments may arrive out of order (loss recovery, relayed duplicates)
// without the writer needing to buffer anything itself.
type FileWriter struct {
	mu sync.Mutex

	f    *os.File
	path string

	started     bool
	dst, bank   dfu.Address
	length      uint32
	lastIsValid bool
	committed   map[dfu.Address]struct{}
}

// NewFileWriter opens (creating if necessary) a sparse backing file at
// path for use as a flash bank.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("flashsim: open %s: %w", path, err)
	}
	return &FileWriter{f: f, path: path, committed: make(map[dfu.Address]struct{})}, nil
}

// Start begins a new transfer, truncating the backing file to exactly
// length bytes.
func (w *FileWriter) Start(dst, bank dfu.Address, length uint32, lastIsValid bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(int64(length)); err != nil {
		return fmt.Errorf("flashsim: truncate %s: %w: %w", w.path, dfu.ErrWriterRejectedStart, err)
	}
	w.started = true
	w.dst, w.bank, w.length, w.lastIsValid = dst, bank, length, lastIsValid
	w.committed = make(map[dfu.Address]struct{})
	return nil
}

// Data writes b at addr's bank-relative offset, deduplicating an address
// already committed.
func (w *FileWriter) Data(addr dfu.Address, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrNotStarted
	}
	if addr < w.bank {
		return ErrOutOfRange
	}
	off := int64(addr - w.bank)
	if uint32(off) >= w.length {
		return ErrOutOfRange
	}
	if _, ok := w.committed[addr]; ok {
		return nil
	}
	if _, err := w.f.WriteAt(b, off); err != nil {
		return fmt.Errorf("flashsim: write at %#x: %w", addr, err)
	}
	w.committed[addr] = struct{}{}
	return nil
}

// End flushes the backing file to stable storage.
func (w *FileWriter) End() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrNotStarted
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("flashsim: sync %s: %w", w.path, err)
	}
	return nil
}

// HasEntry reports whether addr has been committed, reading it into out.
func (w *FileWriter) HasEntry(addr dfu.Address, out []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.committed[addr]; !ok {
		return false
	}
	off := int64(addr - w.bank)
	_, err := w.f.ReadAt(out, off)
	return err == nil || err == io.EOF
}

// Image reads back the full committed range.
func (w *FileWriter) Image() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]byte, w.length)
	_, _ = w.f.ReadAt(buf, 0)
	return buf
}

// SHA256 digests the full committed range.
func (w *FileWriter) SHA256() [32]byte {
	return sha256.Sum256(w.Image())
}

// Close releases the backing file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("flashsim: close %s: %w", w.path, err)
	}
	return nil
}
