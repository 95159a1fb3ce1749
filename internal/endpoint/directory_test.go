package endpoint

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type testLogger struct{}

func (testLogger) LogVerbose(level int, format string, args ...interface{}) {}

func TestDirectoryBackupReceiveListDelete(t *testing.T) {
	dir := t.TempDir()
	b, err := NewDirectoryBackup(dir, "none", false, testLogger{})
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Receive(context.Background(), bytes.NewBufferString("stream-bytes"), "20240101-000000", "", false); err != nil {
		t.Fatal(err)
	}

	set, err := b.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !set.Contains("20240101-000000") {
		t.Fatalf("expected basename to be listed, got %v", set)
	}

	if err := b.Delete(context.Background(), "20240101-000000"); err != nil {
		t.Fatal(err)
	}
	set, err = b.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if set.Contains("20240101-000000") {
		t.Fatal("expected basename to be gone after delete")
	}
}

func TestDirectoryBackupZstdRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewDirectoryBackup(dir, "zstd", false, testLogger{})
	if err != nil {
		t.Fatal(err)
	}
	content := "stream-bytes-for-zstd-compression-roundtrip"
	if err := b.Receive(context.Background(), bytes.NewBufferString(content), "20240101-000000", "", false); err != nil {
		t.Fatal(err)
	}
	set, err := b.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !set.Contains("20240101-000000") {
		t.Fatalf("expected basename to be listed regardless of codec, got %v", set)
	}
}

func TestDirectoryBackupRequireDirMissingIsUnavailable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	b, err := NewDirectoryBackup(missing, "none", true, testLogger{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.List(context.Background(), ""); err == nil {
		t.Fatal("expected List to report the missing directory as unavailable")
	} else {
		var epErr *Error
		if !errors.As(err, &epErr) || epErr.Kind != KindUnavailable {
			t.Fatalf("expected a KindUnavailable Error, got %v (%T)", err, err)
		}
	}
}

func TestDirectoryBackupMissingDirWithoutRequireIsEmpty(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	b, err := NewDirectoryBackup(missing, "none", false, testLogger{})
	if err != nil {
		t.Fatal(err)
	}

	set, err := b.List(context.Background(), "")
	if err != nil {
		t.Fatalf("expected a missing directory to list as empty, got error: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected an empty set, got %v", set)
	}

	if err := b.Receive(context.Background(), bytes.NewBufferString("stream-bytes"), "20240101-000000", "", false); err != nil {
		t.Fatalf("expected Receive to create the directory lazily, got: %v", err)
	}
}
