package chat

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
)

var pairNamespace = uuid.MustParse("6f1c2b1e-7d5a-4c1e-9a53-2f0f2a1f8d11")

// pairKey names the unordered pair {a, b}; pairKey(a, b) == pairKey(b, a).
func pairKey(a, b uuid.UUID) uuid.UUID {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return uuid.NewSHA1(pairNamespace, append(a[:], b[:]...))
}

// keyedLocker hands out one mutex per key. Entries are reference counted
// and dropped once nobody holds or waits for them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[uuid.UUID]*keyLock)}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// release func is idempotent.
func (k *keyedLocker) Acquire(ctx context.Context, key uuid.UUID) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, l, true) })
	}, nil
}

func (k *keyedLocker) release(key uuid.UUID, l *keyLock, held bool) {
	if held {
		<-l.ch
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// size returns the number of live entries.
func (k *keyedLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
