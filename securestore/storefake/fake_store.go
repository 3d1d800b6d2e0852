package storefake

import (
	"sync"

	"github.com/jrsteele09/choirapp/securestore"
	"github.com/pkg/errors"
)

var _ securestore.Store = (*FakeStore)(nil)

// ErrUnavailable simulates a locked device or revoked permission.
var ErrUnavailable = errors.New("secure store unavailable")

// FakeStore is an in-memory store whose operations can be made to fail.
type FakeStore struct {
	values  map[string]string
	failGet bool
	failSet bool
	failRem bool
	writes  int
	lock    sync.RWMutex
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		values: make(map[string]string),
	}
}

// FailGets makes every Get return ErrUnavailable.
func (fs *FakeStore) FailGets(fail bool) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.failGet = fail
}

// FailSets makes every Set return ErrUnavailable.
func (fs *FakeStore) FailSets(fail bool) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.failSet = fail
}

// FailRemoves makes every Remove return ErrUnavailable.
func (fs *FakeStore) FailRemoves(fail bool) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.failRem = fail
}

func (fs *FakeStore) Get(key string) (string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.failGet {
		return "", errors.Wrap(ErrUnavailable, "FakeStore.Get")
	}
	v, ok := fs.values[key]
	if !ok {
		return "", securestore.ErrNotFound
	}
	return v, nil
}

func (fs *FakeStore) Set(key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.failSet {
		return errors.Wrap(ErrUnavailable, "FakeStore.Set")
	}
	fs.values[key] = value
	fs.writes++
	return nil
}

func (fs *FakeStore) Remove(key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.failRem {
		return errors.Wrap(ErrUnavailable, "FakeStore.Remove")
	}
	delete(fs.values, key)
	return nil
}

// Has reports whether key is currently stored, bypassing failure injection.
func (fs *FakeStore) Has(key string) bool {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	_, ok := fs.values[key]
	return ok
}

// Raw returns the stored value for key, bypassing failure injection.
func (fs *FakeStore) Raw(key string) string {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.values[key]
}

// Writes reports how many successful Set calls were made.
func (fs *FakeStore) Writes() int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.writes
}
