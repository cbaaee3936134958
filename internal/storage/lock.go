package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errLocked = errors.New("lock held")

// FileLock is an flock-based exclusive lock on "<path>.lock". It guards a
// record against both goroutines in this process and other diffview
// processes sharing the data directory.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock for path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires the lock, polling with exponential backoff until ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := l.tryLock()
		if err == nil || errors.Is(err, errLocked) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() bool {
	return l.tryLock() == nil
}

func (l *FileLock) tryLock() error {
	if !l.mu.TryLock() {
		return errLocked
	}

	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		l.mu.Unlock()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return errLocked
		}
		return err
	}

	l.file = f
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path + ".lock")

	l.file = nil
	l.mu.Unlock()
	return nil
}
