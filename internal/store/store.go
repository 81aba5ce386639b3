// store.go - String key/value persistence for wallet state.

package store

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/syndtr/goleveldb/leveldb"
)

// Store is the persistence collaborator. A missing key is not an error.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// Memory keeps everything in process. Used by tests and dry runs.
type Memory struct {
	db *memorydb.Database
}

func NewMemory() *Memory {
	return &Memory{db: memorydb.New()}
}

func (m *Memory) Get(key string) (string, bool, error) {
	ok, err := m.db.Has([]byte(key))
	if err != nil || !ok {
		return "", false, err
	}
	v, err := m.db.Get([]byte(key))
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (m *Memory) Set(key, value string) error {
	return m.db.Put([]byte(key), []byte(value))
}

func (m *Memory) Remove(key string) error {
	return m.db.Delete([]byte(key))
}

// Len returns the number of stored keys.
func (m *Memory) Len() int { return m.db.Len() }

// LevelDB persists to a goleveldb directory.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key string) (string, bool, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (l *LevelDB) Set(key, value string) error {
	return l.db.Put([]byte(key), []byte(value), nil)
}

func (l *LevelDB) Remove(key string) error {
	return l.db.Delete([]byte(key), nil)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
