package libpisp

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// backEndLock serialises access to a backend. In-process callers
// contend on the mutex; when a lock file is configured, flock extends
// the exclusion to other processes driving the same hardware.
type backEndLock struct {
	mu   sync.Mutex
	file *os.File
}

func (l *backEndLock) init(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return fmt.Errorf("libpisp: open lock file: %w", err)
	}
	l.file = f
	return nil
}

func (l *backEndLock) close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("libpisp: close lock file: %w", err)
	}
	return nil
}

// flock retries the operation when a signal interrupts it.
func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

func (l *backEndLock) lock() error {
	l.mu.Lock()
	if l.file == nil {
		return nil
	}
	if err := flock(l.file, unix.LOCK_EX); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("libpisp: lock: %w", err)
	}
	return nil
}

func (l *backEndLock) tryLock() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	if l.file == nil {
		return true, nil
	}
	err := flock(l.file, unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		l.mu.Unlock()
		return false, nil
	}
	if err != nil {
		l.mu.Unlock()
		return false, fmt.Errorf("libpisp: try lock: %w", err)
	}
	return true, nil
}

func (l *backEndLock) unlock() error {
	var err error
	if l.file != nil {
		err = flock(l.file, unix.LOCK_UN)
	}
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("libpisp: unlock: %w", err)
	}
	return nil
}

// Lock blocks until this process exclusively holds the backend.
func (be *BackEnd) Lock() error {
	return be.mu.lock()
}

// TryLock attempts the lock without blocking and reports whether it
// was acquired.
func (be *BackEnd) TryLock() (bool, error) {
	return be.mu.tryLock()
}

// Unlock releases the lock taken by Lock or a successful TryLock.
func (be *BackEnd) Unlock() error {
	return be.mu.unlock()
}
