package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

const (
	// DefaultLockTimeout bounds how long a save waits for the config lock.
	DefaultLockTimeout = 5 * time.Second

	lockPollInterval = 100 * time.Millisecond
)

// acquireLock takes the advisory PID lockfile with O_CREATE|O_EXCL. When the
// file already exists the holder PID is probed; locks held by dead processes
// are reclaimed. Waiting is bounded by the store's lock timeout.
func (s *Store) acquireLock() error {
	lockPath := filepath.Join(s.dir, LockFileName)
	deadline := time.Now().Add(s.LockTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(lockPath)
				return fmt.Errorf("failed to write lock file: %w", werr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, readErr := readLockPID(lockPath)
		if readErr != nil || !processAlive(pid) {
			// Holder is gone or the lockfile is garbage. Reclaim and retry;
			// O_EXCL arbitrates if another process reclaims concurrently.
			s.logger.Warn("reclaiming stale config lock",
				zap.String("path", lockPath),
				zap.Int("holder_pid", pid))
			_ = os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return faults.Newf(faults.LockTimeout,
				"config lock held by running process %d after %s", pid, s.LockTimeout)
		}
		time.Sleep(lockPollInterval)
	}
}

func (s *Store) releaseLock() {
	lockPath := filepath.Join(s.dir, LockFileName)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove config lock", zap.Error(err))
	}
}

func readLockPID(lockPath string) (int, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lock file does not contain a pid")
	}
	return pid, nil
}
