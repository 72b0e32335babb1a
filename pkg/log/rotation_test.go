// Log rotation tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cncd.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: path, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter: %v", err)
	}
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 3; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected first backup: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Errorf("expected second backup: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected no third backup, got err=%v", err)
	}
	if w.Size() != int64(len(chunk)) {
		t.Errorf("active file size = %d, want %d", w.Size(), len(chunk))
	}
}

func TestRotatingFileWriterCompress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cncd.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: path, MaxSize: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter: %v", err)
	}
	defer w.Close()

	first := bytes.Repeat([]byte("a"), 900*1024)
	w.Write(first)
	w.Write(bytes.Repeat([]byte("b"), 200*1024))

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("expected compressed backup: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.Equal(data, first) {
		t.Errorf("backup content mismatch: %d bytes", len(data))
	}
}

func TestRotatingFileWriterRequiresName(t *testing.T) {
	if _, err := NewRotatingFileWriter(RotationConfig{}); err == nil {
		t.Error("expected error for empty filename")
	}
}
