package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Nonlinear-FOD/lab-client/internal/utils"
)

// Store is an origin-keyed cache of sessions shared by independent client
// processes. Get returns nil without error when no session exists.
type Store interface {
	Get(origin string) (*Session, error)
	Put(origin string, session *Session) error
	Delete(origin string) error
}

var _ Store = (*FileStore)(nil)

// FileStore persists all sessions as one JSON document. Every write replaces
// the file atomically (write-temp-then-rename) so a concurrent reader never
// observes a partial document; there is no cross-process locking, so two
// processes refreshing at once race last-writer-wins.
type FileStore struct {
	path string
	log  zerolog.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithStoreLogger attaches a logger for best-effort failures such as chmod.
func WithStoreLogger(log zerolog.Logger) FileStoreOption {
	return func(fs *FileStore) {
		fs.log = log
	}
}

// NewFileStore creates a store backed by the JSON document at path.
func NewFileStore(path string, options ...FileStoreOption) *FileStore {
	fs := &FileStore{
		path: path,
		log:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(fs)
	}
	return fs
}

// Path returns the location of the backing file.
func (fs *FileStore) Path() string {
	return fs.path
}

func (fs *FileStore) Get(origin string) (*Session, error) {
	all, err := fs.read()
	if err != nil {
		return nil, err
	}
	return all[origin], nil
}

func (fs *FileStore) Put(origin string, session *Session) error {
	if session == nil {
		return errors.New("[FileStore.Put] session is required")
	}
	all, err := fs.read()
	if err != nil {
		return err
	}
	all[origin] = session
	return fs.write(all)
}

func (fs *FileStore) Delete(origin string) error {
	all, err := fs.read()
	if err != nil {
		return err
	}
	if _, ok := all[origin]; !ok {
		return nil
	}
	delete(all, origin)
	return fs.write(all)
}

// read loads the whole document. A missing or unparseable file reads as
// empty; corruption is recovered from on the next write.
func (fs *FileStore) read() (map[string]*Session, error) {
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Session{}, nil
		}
		return nil, errors.Wrapf(err, "[FileStore.read] reading %s", fs.path)
	}
	all := map[string]*Session{}
	if err := json.Unmarshal(raw, &all); err != nil {
		fs.log.Debug().Err(err).Str("path", fs.path).Msg("session file unparseable, treating as empty")
		return map[string]*Session{}, nil
	}
	return all, nil
}

func (fs *FileStore) write(all map[string]*Session) error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return errors.Wrapf(err, "[FileStore.write] creating %s", filepath.Dir(fs.path))
	}
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[FileStore.write] marshaling sessions")
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrapf(err, "[FileStore.write] writing %s", tmp)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return errors.Wrapf(err, "[FileStore.write] replacing %s", fs.path)
	}
	// The rename preserves the temp file's 0600, but re-assert in case the
	// file pre-existed with looser permissions. Not all platforms honor it.
	utils.BestEffort(fs.log, "restricting session file permissions", func() error {
		return os.Chmod(fs.path, 0o600)
	})
	return nil
}
