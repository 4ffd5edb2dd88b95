package fake_server

import (
	"strconv"
	"time"

	"github.com/tidwall/match"
)

const numDatabases = 16

type valueKind string

const (
	kindString valueKind = "string"
	kindHash   valueKind = "hash"
	kindList   valueKind = "list"
)

type entry struct {
	kind     valueKind
	str      []byte
	hash     map[string][]byte
	list     [][]byte
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

type watchKey struct {
	db  int
	key string
}

// store is the keyspace of every database. Callers hold Server.storeMu.
type store struct {
	dbs      [numDatabases]map[string]*entry
	versions map[watchKey]uint64
	clock    uint64
	// pushed is closed and replaced whenever a list grows.
	pushed chan struct{}
}

func newStore() *store {
	s := &store{
		versions: make(map[watchKey]uint64),
		pushed:   make(chan struct{}),
	}
	for i := range s.dbs {
		s.dbs[i] = make(map[string]*entry)
	}
	return s
}

// touch marks key as modified for WATCH.
func (s *store) touch(db int, key string) {
	s.clock++
	s.versions[watchKey{db, key}] = s.clock
}

func (s *store) version(db int, key string) uint64 {
	s.lookup(db, key)
	return s.versions[watchKey{db, key}]
}

func (s *store) lookup(db int, key string) *entry {
	e, ok := s.dbs[db][key]
	if !ok {
		return nil
	}
	if e.expired(time.Now()) {
		delete(s.dbs[db], key)
		s.touch(db, key)
		return nil
	}
	return e
}

// typed returns the entry under key when it holds kind. A missing key
// returns nil, nil.
func (s *store) typed(db int, key string, kind valueKind) (*entry, error) {
	e := s.lookup(db, key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kind {
		return nil, errWrongType
	}
	return e, nil
}

// create returns the entry under key, creating an empty one of kind.
func (s *store) create(db int, key string, kind valueKind) (*entry, error) {
	e, err := s.typed(db, key, kind)
	if err != nil || e != nil {
		return e, err
	}
	e = &entry{kind: kind}
	switch kind {
	case kindHash:
		e.hash = make(map[string][]byte)
	}
	s.dbs[db][key] = e
	return e, nil
}

func (s *store) setString(db int, key string, value []byte, expireAt time.Time) {
	s.dbs[db][key] = &entry{kind: kindString, str: value, expireAt: expireAt}
	s.touch(db, key)
}

func (s *store) del(db int, key string) bool {
	if s.lookup(db, key) == nil {
		return false
	}
	delete(s.dbs[db], key)
	s.touch(db, key)
	return true
}

// dropIfEmpty removes collections left without elements.
func (s *store) dropIfEmpty(db int, key string, e *entry) {
	if (e.kind == kindList && len(e.list) == 0) || (e.kind == kindHash && len(e.hash) == 0) {
		delete(s.dbs[db], key)
	}
}

func (s *store) keys(db int, pattern string) []string {
	var keys []string
	now := time.Now()
	for key, e := range s.dbs[db] {
		if e.expired(now) {
			continue
		}
		if match.Match(key, pattern) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *store) size(db int) int {
	n := 0
	now := time.Now()
	for _, e := range s.dbs[db] {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (s *store) flush(db int) {
	for key := range s.dbs[db] {
		s.touch(db, key)
	}
	s.dbs[db] = make(map[string]*entry)
}

func (s *store) notifyPush() {
	close(s.pushed)
	s.pushed = make(chan struct{})
}

// changed reports whether any watched key moved since it was watched.
func (s *store) changed(watched map[watchKey]uint64) bool {
	for wk, v := range watched {
		if s.version(wk.db, wk.key) != v {
			return true
		}
	}
	return false
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}

// listRange clamps Redis style inclusive indexes, negatives counting from
// the tail.
func listRange(start, stop int64, n int) (int, int, bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}
