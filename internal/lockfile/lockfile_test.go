package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireWritesOwner(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	owner := readOwner(lock.Path())
	if owner.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), owner.PID)
	}
	if owner.Started.IsZero() {
		t.Error("expected start time to be recorded")
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("expected second Acquire to fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() {
		t.Errorf("expected owner pid %d, got %d", os.Getpid(), lockErr.Owner.PID)
	}
	if !strings.Contains(err.Error(), "(running)") || !strings.Contains(err.Error(), lockErr.LockPath) {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("expected lock file to be removed, stat err %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesNestedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "civicpipe")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected state directory to exist: %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	started := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		content string
		want    Owner
	}{
		{formatOwner(Owner{PID: 42, Started: started}), Owner{PID: 42, Started: started}},
		{"pid=7\n", Owner{PID: 7}},
		{"pid=abc started=yesterday", Owner{}},
		{"", Owner{}},
	}
	for _, tt := range tests {
		got := parseOwner(tt.content)
		if got.PID != tt.want.PID || !got.Started.Equal(tt.want.Started) {
			t.Errorf("parseOwner(%q) = %+v, want %+v", tt.content, got, tt.want)
		}
	}
}

func TestOwnerString(t *testing.T) {
	if s := (Owner{}).String(); s != "unknown process" {
		t.Errorf("unexpected string for empty owner: %q", s)
	}
	if s := (Owner{PID: os.Getpid()}).String(); !strings.Contains(s, "running") {
		t.Errorf("expected current process to be running: %q", s)
	}
}
