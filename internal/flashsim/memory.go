package flashsim

import (
	"crypto/sha256"
	"sync"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// MemoryWriter is an in-memory dfu.Writer, a flash bank simulation for
// tests and in-process use; the daemon itself always uses FileWriter.
type MemoryWriter struct {
	mu sync.Mutex

	started     bool
	ended       bool
	dst, bank   dfu.Address
	length      uint32
	lastIsValid bool

	segments map[dfu.Address][]byte
}

// NewMemoryWriter returns an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{segments: make(map[dfu.Address][]byte)}
}

// Start begins a new transfer, discarding anything from a previous one.
func (w *MemoryWriter) Start(dst, bank dfu.Address, length uint32, lastIsValid bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	w.ended = false
	w.dst, w.bank, w.length, w.lastIsValid = dst, bank, length, lastIsValid
	w.segments = make(map[dfu.Address][]byte)
	return nil
}

// Data commits b at addr, deduplicating a previously-seen address.
func (w *MemoryWriter) Data(addr dfu.Address, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrNotStarted
	}
	if _, ok := w.segments[addr]; ok {
		return nil
	}
	w.segments[addr] = append([]byte(nil), b...)
	return nil
}

// End finalizes the transfer.
func (w *MemoryWriter) End() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrNotStarted
	}
	w.ended = true
	return nil
}

// HasEntry reports whether addr has been committed, copying it into out.
func (w *MemoryWriter) HasEntry(addr dfu.Address, out []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.segments[addr]
	if !ok {
		return false
	}
	copy(out, b)
	return true
}

// Image assembles every committed byte over [bank, bank+length) into one
// contiguous buffer, zero-filling any gap that was never committed.
func (w *MemoryWriter) Image() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.assembleLocked()
}

// SHA256 digests the assembled image.
func (w *MemoryWriter) SHA256() [32]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return sha256.Sum256(w.assembleLocked())
}

func (w *MemoryWriter) assembleLocked() []byte {
	buf := make([]byte, w.length)
	for addr, seg := range w.segments {
		if addr < w.bank {
			continue
		}
		off := uint32(addr - w.bank)
		if off >= w.length {
			continue
		}
		copy(buf[off:], seg)
	}
	return buf
}
