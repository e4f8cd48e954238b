package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dealbot/internal/models"
)

// DefaultLockTTL is how old a lock file must be before it is considered
// abandoned by a crashed run.
const DefaultLockTTL = 2 * time.Hour

// Lock is a lock file guaranteeing at most one run in flight across
// processes sharing the same state.
type Lock struct {
	path string
	ttl  time.Duration
}

// NewLock creates a lock at path. A non-positive ttl uses DefaultLockTTL.
func NewLock(path string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Lock{path: path, ttl: ttl}
}

// Acquire creates the lock file. It returns models.ErrLocked while another
// holder's lock is younger than the TTL; stale locks are removed.
func (l *Lock) Acquire() error {
	abspath, err := filepath.Abs(l.path)
	if err != nil {
		return fmt.Errorf("resolve lock path: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(abspath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			_ = f.Close()
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock: %w", err)
		}

		fi, err := os.Stat(abspath)
		if err != nil {
			continue
		}
		if time.Since(fi.ModTime()) >= l.ttl {
			_ = os.Remove(abspath)
			continue
		}
		return fmt.Errorf("%w: lock %s held since %s", models.ErrLocked, abspath, fi.ModTime().Format(time.RFC3339))
	}

	return fmt.Errorf("%w: could not acquire %s", models.ErrLocked, abspath)
}

// Release removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.path == "" {
		return
	}
	_ = os.Remove(l.path)
}
