package lockmgr

import (
	"context"
	"time"
)

// noopProvider hands out locks that always succeed immediately. It is used when
// locking is disabled or not supported, and provides no mutual exclusion.
type noopProvider struct {
	debug bool
}

// NewNoopProvider creates a provider whose locks always succeed.
func NewNoopProvider(opts *Options) ILockProvider {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &noopProvider{debug: opts.Debug}
}

func (p *noopProvider) Lock(name string) IRWLock {
	return &noopLock{name: name, debug: p.debug}
}

func (p *noopProvider) Stats() Stats {
	return Stats{}
}

type noopLock struct {
	name  string
	debug bool
}

func (l *noopLock) debugf(format string, args ...interface{}) {
	if l.debug {
		log.Infof(format, args...)
	}
}

func (l *noopLock) ReadLock(_ context.Context, timeout time.Duration) (bool, error) {
	l.debugf("readLock() timeout %s for %s", timeout, l.name)
	return true, nil
}

func (l *noopLock) ReadUnlock() error {
	l.debugf("readUnlock() for %s", l.name)
	return nil
}

func (l *noopLock) WriteLock(_ context.Context, timeout time.Duration) (bool, error) {
	l.debugf("writeLock() timeout %s for %s", timeout, l.name)
	return true, nil
}

func (l *noopLock) WriteUnlock() error {
	l.debugf("writeUnlock() for %s", l.name)
	return nil
}

func (l *noopLock) Close() error { return nil }
