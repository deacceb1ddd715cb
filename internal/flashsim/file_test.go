package flashsim

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileWriterCommitsAndReadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.img")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer w.Close()

	if err := w.Start(0x2000, 0x2000, 32, true); err != nil {
		t.Fatalf("Start: %v", err)
	}

	seg1 := bytes.Repeat([]byte{0xAA}, 16)
	seg2 := bytes.Repeat([]byte{0xBB}, 16)
	if err := w.Data(0x2010, seg2); err != nil { // out of order on purpose
		t.Fatalf("Data seg2: %v", err)
	}
	if err := w.Data(0x2000, seg1); err != nil {
		t.Fatalf("Data seg1: %v", err)
	}
	if err := w.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	want := append(append([]byte(nil), seg1...), seg2...)
	if got := w.Image(); !bytes.Equal(got, want) {
		t.Fatalf("Image = %x, want %x", got, want)
	}
}

func TestFileWriterRejectsOutOfRangeAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.img")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer w.Close()

	_ = w.Start(0x1000, 0x1000, 16, true)
	if err := w.Data(0x2000, make([]byte, 16)); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestFileWriterHasEntryAfterCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.img")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer w.Close()

	_ = w.Start(0, 0, 16, true)
	payload := bytes.Repeat([]byte{9}, 16)
	if w.HasEntry(0, make([]byte, 16)) {
		t.Fatal("expected no entry before commit")
	}
	_ = w.Data(0, payload)

	out := make([]byte, 16)
	if !w.HasEntry(0, out) {
		t.Fatal("expected entry after commit")
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("HasEntry = %x, want %x", out, payload)
	}
}
