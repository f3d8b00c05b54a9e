package storefakes

import (
	"sync"

	"github.com/Nonlinear-FOD/lab-client/sessions"
)

var _ sessions.Store = (*FakeStore)(nil)

// FakeStore is an in-memory session store that records call counts for
// assertions on lifecycle behavior.
type FakeStore struct {
	lock     sync.RWMutex
	sessions map[string]*sessions.Session

	PutCalls    int
	DeleteCalls int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		sessions: make(map[string]*sessions.Session),
	}
}

func (fs *FakeStore) Get(origin string) (*sessions.Session, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	return fs.sessions[origin], nil
}

func (fs *FakeStore) Put(origin string, session *sessions.Session) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.PutCalls++
	fs.sessions[origin] = session
	return nil
}

func (fs *FakeStore) Delete(origin string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.DeleteCalls++
	delete(fs.sessions, origin)
	return nil
}
