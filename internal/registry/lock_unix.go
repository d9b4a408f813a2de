//go:build unix

package registry

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockTimeout = 5 * time.Second
	lockRetry   = 50 * time.Millisecond
)

// lockSettings takes an exclusive advisory lock on <path>.lock, shared by
// every pushbox process using the same settings file. The returned func
// releases it.
func lockSettings(path string) (func(), error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, settingsPerm)
	if err != nil {
		return nil, fmt.Errorf("opening settings lock: %w", err)
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(lockTimeout)

	for {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}

		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("locking settings: %w", err)
		}

		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("settings %s are locked by another pushbox process", path)
		}

		time.Sleep(lockRetry)
	}

	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
