package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyedLocks hands out one mutex per key. Entries are removed once nobody holds or awaits them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	held chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[uuid.UUID]*keyedLock)}
}

// Lock blocks until key is free or ctx is done. The returned unlock func is safe to call more than once.
func (k *keyedLocks) Lock(ctx context.Context, key uuid.UUID) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{held: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.held <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.held
				k.release(key, l)
			})
		}, nil

	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) release(key uuid.UUID, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}
