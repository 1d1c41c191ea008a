package account

import "sync"

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyedLocker hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits on them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyLock)}
}

func (k *keyedLocker) acquire(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedLocker) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedLocker) Lock(key string) func() {
	l := k.acquire(key)
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.release(key, l)
	}
}

// TryLock takes key only if nobody holds it.
func (k *keyedLocker) TryLock(key string) (func(), bool) {
	l := k.acquire(key)
	if !l.mu.TryLock() {
		k.release(key, l)
		return nil, false
	}
	return func() {
		l.mu.Unlock()
		k.release(key, l)
	}, true
}

func (k *keyedLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
