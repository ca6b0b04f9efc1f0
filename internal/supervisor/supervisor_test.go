package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T, dir string) *Supervisor {
	t.Helper()
	return New(Config{
		DataDir:        dir,
		StartupCleanup: true,
	})
}

func TestStartupAcquiresLockAndRegisters(t *testing.T) {
	dir := t.TempDir()
	s := newTestSupervisor(t, dir)
	if err := s.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer s.Shutdown(StatusStopped)

	data, err := os.ReadFile(filepath.Join(dir, "ntfy-mcp.lock"))
	if err != nil {
		t.Fatalf("lock file: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock must contain our pid, got %q", data)
	}

	entries, err := s.Journal().Load()
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != StatusRunning || e.PID != os.Getpid() || e.EndedAt != nil {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestShutdownFinalizesOnceAndReleasesLock(t *testing.T) {
	dir := t.TempDir()
	s := newTestSupervisor(t, dir)
	if err := s.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}

	s.Shutdown(StatusStopped)
	// second call must not overwrite the terminal status
	s.Shutdown(StatusCrashed)

	entries, err := s.Journal().Load()
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if entries[0].Status != StatusStopped {
		t.Fatalf("status: want stopped, got %s", entries[0].Status)
	}
	if entries[0].EndedAt == nil {
		t.Fatalf("endedAt must be set")
	}
	if _, err := os.Stat(filepath.Join(dir, "ntfy-mcp.lock")); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed, stat err=%v", err)
	}
}

func TestStaleLockIsRemovedAndReacquired(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, "ntfy-mcp.lock")
	// pid that cannot exist
	if err := os.WriteFile(lock, []byte("99999999"), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	s := newTestSupervisor(t, dir)
	if err := s.Startup(); err != nil {
		t.Fatalf("startup with stale lock: %v", err)
	}
	defer s.Shutdown(StatusStopped)

	data, _ := os.ReadFile(lock)
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock must be re-owned, got %q", data)
	}
}

func TestLiveHolderAbortsStartup(t *testing.T) {
	dir := t.TempDir()
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}()

	lock := filepath.Join(dir, "ntfy-mcp.lock")
	if err := os.WriteFile(lock, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	s := newTestSupervisor(t, dir)
	err := s.Startup()
	if !errors.Is(err, ErrAnotherInstance) {
		t.Fatalf("want ErrAnotherInstance, got %v", err)
	}
}

func TestReapMarksDeadRunningEntryStale(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(filepath.Join(dir, "processes.json"))
	seed := []Entry{{
		ID:        "dead-entry",
		PID:       99999999,
		StartedAt: time.Now().Add(-time.Hour),
		Status:    StatusRunning,
	}}
	if err := j.Save(seed); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	s := newTestSupervisor(t, dir)
	if err := s.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer s.Shutdown(StatusStopped)

	entries, err := s.Journal().Load()
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.ID == "dead-entry" {
			found = true
			if e.Status != StatusStale || e.EndedAt == nil {
				t.Fatalf("dead entry should be stale with endedAt, got %+v", e)
			}
		}
	}
	if !found {
		t.Fatalf("seeded entry disappeared")
	}
}

func TestReapTerminatesLiveOrphan(t *testing.T) {
	dir := t.TempDir()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	waited := make(chan struct{})
	go func() { _ = cmd.Wait(); close(waited) }() // reap so the pid does not linger as a zombie
	defer func() {
		_ = cmd.Process.Kill()
		<-waited
	}()

	j := NewJournal(filepath.Join(dir, "processes.json"))
	seed := []Entry{{
		ID:        "orphan",
		PID:       cmd.Process.Pid,
		StartedAt: time.Now().Add(-time.Minute),
		Status:    StatusRunning,
	}}
	if err := j.Save(seed); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	s := newTestSupervisor(t, dir)
	if err := s.Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer s.Shutdown(StatusStopped)

	entries, _ := s.Journal().Load()
	for _, e := range entries {
		if e.ID == "orphan" && e.Status != StatusTerminated {
			t.Fatalf("live orphan should be terminated, got %s", e.Status)
		}
	}

	// SIGTERM should take the helper down
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && pidAlive(cmd.Process.Pid) {
		time.Sleep(50 * time.Millisecond)
	}
}

func TestJournalFinalizeUnknownEntry(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "processes.json"))
	if err := j.Finalize("nope", StatusStopped); err == nil {
		t.Fatalf("expected error for unknown entry")
	}
}

func TestJournalLoadMissingFile(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "processes.json"))
	entries, err := j.Load()
	if err != nil || entries != nil {
		t.Fatalf("missing journal: entries=%v err=%v", entries, err)
	}
}
