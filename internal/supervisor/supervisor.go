// Package supervisor enforces single-instance operation: an exclusive PID
// lock file, a process journal used to detect and reap orphaned prior
// instances, and once-only shutdown finalization.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAnotherInstance means a live process already holds the lock. Startup
// must abort the whole process; single-instance is a hard invariant.
var ErrAnotherInstance = errors.New("supervisor: another live instance holds the lock")

// killGrace is how long an orphan gets after SIGTERM before SIGKILL.
const killGrace = 2 * time.Second

// Config configures a Supervisor.
type Config struct {
	DataDir        string
	LockFile       string // default {DataDir}/ntfy-mcp.lock
	JournalFile    string // default {DataDir}/processes.json
	StartupCleanup bool   // probe and reap orphaned journal entries on startup
	KillExisting   bool   // aggressively kill any running entry before cleanup
	Logger         *slog.Logger
}

// Supervisor owns this process's journal entry and the lock file.
type Supervisor struct {
	lockPath string
	journal  *Journal
	logger   *slog.Logger

	startupCleanup bool
	killExisting   bool

	pid      int
	entryID  string
	finalize sync.Once
}

// New creates a Supervisor. Startup must be called before anything else.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LockFile == "" {
		cfg.LockFile = filepath.Join(cfg.DataDir, "ntfy-mcp.lock")
	}
	if cfg.JournalFile == "" {
		cfg.JournalFile = filepath.Join(cfg.DataDir, "processes.json")
	}
	return &Supervisor{
		lockPath:       cfg.LockFile,
		journal:        NewJournal(cfg.JournalFile),
		logger:         cfg.Logger,
		startupCleanup: cfg.StartupCleanup,
		killExisting:   cfg.KillExisting,
		pid:            os.Getpid(),
	}
}

// EntryID returns this process's journal entry id ("" before Startup).
func (s *Supervisor) EntryID() string { return s.entryID }

// PID returns this process's pid.
func (s *Supervisor) PID() int { return s.pid }

// Journal exposes the underlying journal for read-only callers.
func (s *Supervisor) Journal() *Journal { return s.journal }

// Startup gates process startup: reap orphans, acquire the exclusive lock,
// and append this process's running journal entry. On ErrAnotherInstance the
// caller must exit non-zero without retrying.
func (s *Supervisor) Startup() error {
	if dir := filepath.Dir(s.lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("supervisor: create data dir: %w", err)
		}
	}

	if s.killExisting {
		s.killRunning()
	}
	if s.startupCleanup {
		if err := s.reapOrphans(); err != nil {
			s.logger.Warn("orphan cleanup failed", "error", err)
		}
	}

	if err := s.acquireLock(); err != nil {
		return err
	}

	entries, err := s.journal.Load()
	if err != nil {
		s.logger.Warn("journal unreadable, starting fresh", "error", err)
		entries = nil
	}
	s.entryID = uuid.NewString()
	cwd, _ := os.Getwd()
	entries = append(entries, Entry{
		ID:        s.entryID,
		PID:       s.pid,
		CWD:       cwd,
		StartedAt: time.Now(),
		Status:    StatusRunning,
	})
	if err := s.journal.Save(entries); err != nil {
		return err
	}
	s.logger.Info("instance registered", "pid", s.pid, "entry", s.entryID)
	return nil
}

// Shutdown finalizes this process's journal entry with status and releases
// the lock file. It is safe to call from multiple shutdown paths; only the
// first call takes effect.
func (s *Supervisor) Shutdown(status Status) {
	s.finalize.Do(func() {
		if s.entryID != "" {
			if err := s.journal.Finalize(s.entryID, status); err != nil {
				s.logger.Warn("journal finalize failed", "error", err)
			}
		}
		s.releaseLock()
		s.logger.Info("instance finalized", "pid", s.pid, "status", string(status))
	})
}

// killRunning force-terminates every other running journal entry before the
// liveness-driven cleanup: SIGTERM first, SIGKILL shortly after if the
// process is still alive.
func (s *Supervisor) killRunning() {
	entries, err := s.journal.Load()
	if err != nil {
		s.logger.Warn("journal unreadable during kill-existing", "error", err)
		return
	}
	changed := false
	for i := range entries {
		e := &entries[i]
		if e.Status != StatusRunning || e.EndedAt != nil || e.PID == s.pid {
			continue
		}
		if !pidAlive(e.PID) {
			continue
		}
		s.logger.Warn("killing existing instance", "pid", e.PID, "entry", e.ID)
		if err := terminate(e.PID); err != nil {
			s.logger.Warn("terminate failed", "pid", e.PID, "error", err)
		}
		pid := e.PID
		go func() {
			time.Sleep(killGrace)
			if pidAlive(pid) {
				_ = forceKill(pid)
			}
		}()
		now := time.Now()
		e.Status = StatusTerminated
		e.EndedAt = &now
		changed = true
	}
	if changed {
		if err := s.journal.Save(entries); err != nil {
			s.logger.Warn("journal save failed after kill-existing", "error", err)
		}
	}
}

// reapOrphans probes every running journal entry: a live pid that is not us
// gets force-terminated and marked terminated; a dead, invalid, or self pid
// is marked stale.
func (s *Supervisor) reapOrphans() error {
	entries, err := s.journal.Load()
	if err != nil {
		return err
	}
	changed := false
	now := time.Now()
	for i := range entries {
		e := &entries[i]
		if e.Status != StatusRunning || e.EndedAt != nil {
			continue
		}
		switch {
		case e.PID <= 0 || e.PID == s.pid:
			e.Status = StatusStale
		case pidAlive(e.PID):
			s.logger.Warn("terminating orphaned instance", "pid", e.PID, "entry", e.ID)
			if err := terminate(e.PID); err != nil {
				s.logger.Warn("terminate failed", "pid", e.PID, "error", err)
			}
			pid := e.PID
			go func() {
				time.Sleep(killGrace)
				if pidAlive(pid) {
					_ = forceKill(pid)
				}
			}()
			e.Status = StatusTerminated
		default:
			e.Status = StatusStale
		}
		e.EndedAt = &now
		changed = true
	}
	if !changed {
		return nil
	}
	return s.journal.Save(entries)
}

// acquireLock atomically creates the lock file containing our pid. When the
// file already exists and its owner is alive, startup aborts with
// ErrAnotherInstance; a stale lock is removed and acquisition retried once.
func (s *Supervisor) acquireLock() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(s.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(s.pid))
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("supervisor: write lock file: %w", werr)
			}
			return cerr
		}
		if !os.IsExist(err) {
			return fmt.Errorf("supervisor: create lock file: %w", err)
		}

		owner, rerr := s.lockOwner()
		if rerr == nil && owner != s.pid && pidAlive(owner) {
			return fmt.Errorf("%w: pid %d (lock %s)", ErrAnotherInstance, owner, s.lockPath)
		}
		s.logger.Warn("removing stale lock file", "path", s.lockPath, "owner", owner)
		if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("supervisor: remove stale lock: %w", err)
		}
	}
	return fmt.Errorf("supervisor: could not acquire lock %s", s.lockPath)
}

// releaseLock deletes the lock file only if it still names this pid.
func (s *Supervisor) releaseLock() {
	owner, err := s.lockOwner()
	if err != nil || owner != s.pid {
		return
	}
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("lock release failed", "path", s.lockPath, "error", err)
	}
}

func (s *Supervisor) lockOwner() (int, error) {
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
