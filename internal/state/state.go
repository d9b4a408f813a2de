// Package state persists what pushbox learns between runs: the login saved
// by `pushbox login` and the last successful write of every pushed file.
// Neither is consulted when deciding create versus update; the remote is
// always asked.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the pushbox home directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// The login secret is stored here, so only the owner may read it.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket = []byte("app")
	loginKey  = []byte("login")
)

func pushBucket(folder string) []byte {
	return []byte("folder:" + folder + ":pushed")
}

// Login is the identity and secret saved by `pushbox login`.
type Login struct {
	Identity string    `json:"identity"`
	Secret   string    `json:"secret"`
	SavedAt  time.Time `json:"saved_at"`
}

// PushRecord is the last successful write of one file.
type PushRecord struct {
	RemoteName string    `json:"remote_name"`
	LocalPath  string    `json:"local_path"`
	VersionTag string    `json:"version_tag"`
	Size       int64     `json:"size"`
	PushedAt   time.Time `json:"pushed_at"`
}

// State is the persistent application state in a bbolt database. The
// database is opened for each operation and closed straight after, so a
// long-running watcher or server never holds the file lock that every
// other pushbox command needs.
type State struct {
	path string
}

// LoadAt prepares a state database at the given path, creating it and its
// directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &State{path: path}

	err := s.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return s, nil
}

func (s *State) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return db, nil
}

// view runs fn in a read transaction under a shared file lock.
func (s *State) view(fn func(*bolt.Tx) error) error {
	db, err := s.open(true)
	if err != nil {
		return err
	}

	err = db.View(fn)

	return errors.Join(err, db.Close())
}

// update runs fn in a write transaction under an exclusive file lock.
func (s *State) update(fn func(*bolt.Tx) error) error {
	db, err := s.open(false)
	if err != nil {
		return err
	}

	err = db.Update(fn)

	return errors.Join(err, db.Close())
}

// Login returns the saved login. ok is false when none is saved.
func (s *State) Login() (login Login, ok bool, err error) {
	err = s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(loginKey)
		if v == nil {
			return nil
		}

		ok = true

		return json.Unmarshal(v, &login)
	})

	return login, ok, err
}

// SetLogin persists a login, replacing any previous one.
func (s *State) SetLogin(login Login) error {
	if login.Secret == "" {
		return errors.New("login secret is required")
	}

	if login.SavedAt.IsZero() {
		login.SavedAt = time.Now().UTC()
	}

	data, err := json.Marshal(login)
	if err != nil {
		return err
	}

	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(loginKey, data)
	})
}

// ClearLogin removes the saved login. Clearing when none is saved is not
// an error.
func (s *State) ClearLogin() error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Delete(loginKey)
	})
}

// SetPushRecord records a successful write under folder.
func (s *State) SetPushRecord(folder string, rec PushRecord) error {
	if rec.RemoteName == "" {
		return errors.New("push record needs a remote name")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(pushBucket(folder))
		if err != nil {
			return err
		}

		return b.Put([]byte(rec.RemoteName), data)
	})
}

// PushRecord returns the record for one remote name, or nil.
func (s *State) PushRecord(folder, remoteName string) (*PushRecord, error) {
	var rec *PushRecord

	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(pushBucket(folder))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(remoteName))
		if v == nil {
			return nil
		}

		rec = &PushRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// PushRecords returns every record for folder, sorted by remote name.
func (s *State) PushRecords(folder string) ([]PushRecord, error) {
	var out []PushRecord

	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(pushBucket(folder))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var rec PushRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			out = append(out, rec)

			return nil
		})
	})

	sort.Slice(out, func(i, j int) bool { return out[i].RemoteName < out[j].RemoteName })

	return out, err
}

// DeletePushRecords drops all records for folder.
func (s *State) DeletePushRecords(folder string) error {
	return s.update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(pushBucket(folder))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}

		return err
	})
}
