package graph

import (
	"bytes"
	"container/list"
	"encoding/gob"
	"strconv"
	"sync"

	badger "github.com/dgraph-io/badger"
	"github.com/pkg/errors"

	"github.com/BMeu/crgp/internal/domain"
)

func uidString(u domain.UID) string {
	return strconv.FormatUint(uint64(u), 10)
}

// FriendIndex is the per-worker resident mapping UID -> FriendSet
// (spec.md §3). It is built once during ingest (epoch 0) and never
// mutated afterward. By default it lives entirely in memory; when an
// overflow directory is configured it write-through persists to a
// Badger KV store and keeps only a bounded LRU of hot users resident,
// the way spec.md §1 anticipates for follower graphs too large for one
// host's memory.
type FriendIndex struct {
	mu  sync.RWMutex
	hot map[domain.UID]*list.Element
	lru *list.List // front = most recently used
	cap int         // 0 means unbounded (pure in-memory mode)

	db *badger.DB // nil unless overflow is enabled
}

type lruEntry struct {
	user    domain.UID
	friends domain.FriendSet
}

// NewFriendIndex creates a purely in-memory index.
func NewFriendIndex() *FriendIndex {
	return &FriendIndex{
		hot: make(map[domain.UID]*list.Element),
		lru: list.New(),
	}
}

// NewOverflowFriendIndex creates an index backed by a Badger database
// rooted at dir, keeping at most hotCapacity users resident at once.
func NewOverflowFriendIndex(dir string, hotCapacity int) (*FriendIndex, error) {
	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = false
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening friend-graph overflow store at %s", dir)
	}

	if hotCapacity <= 0 {
		hotCapacity = 4096
	}

	return &FriendIndex{
		hot: make(map[domain.UID]*list.Element),
		lru: list.New(),
		cap: hotCapacity,
		db:  db,
	}, nil
}

// Close releases the overflow store, if any.
func (idx *FriendIndex) Close() error {
	if idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Insert records u's friend set. Called only during the ingest phase
// (epoch 0), never concurrently with Lookup for the same key from a
// different insert, per spec.md's "owned exclusively by its worker"
// invariant.
func (idx *FriendIndex) Insert(u domain.UID, friends domain.FriendSet) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.db == nil {
		idx.touchLocked(u, friends)
		return nil
	}

	buf, err := encodeFriends(friends)
	if err != nil {
		return errors.Wrapf(err, "encoding friend set for user %d", u)
	}
	if err := idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(friendKey(u), buf)
	}); err != nil {
		return errors.Wrapf(err, "writing friend set for user %d", u)
	}
	idx.touchLocked(u, friends)
	return nil
}

// Lookup returns the friend set for u, or an empty set if u was never
// inserted (a user with no recorded friends still resolves to an empty
// set per spec.md §3).
func (idx *FriendIndex) Lookup(u domain.UID) domain.FriendSet {
	idx.mu.RLock()
	if el, ok := idx.hot[u]; ok {
		set := el.Value.(*lruEntry).friends
		idx.mu.RUnlock()
		idx.mu.Lock()
		idx.lru.MoveToFront(el)
		idx.mu.Unlock()
		return set
	}
	idx.mu.RUnlock()

	if idx.db == nil {
		return domain.FriendSet{}
	}

	var set domain.FriendSet
	err := idx.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(friendKey(u))
		if err == badger.ErrKeyNotFound {
			set = domain.FriendSet{}
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeFriends(val)
			if err != nil {
				return err
			}
			set = decoded
			return nil
		})
	})
	if err != nil || set == nil {
		return domain.FriendSet{}
	}

	idx.mu.Lock()
	idx.touchLocked(u, set)
	idx.mu.Unlock()
	return set
}

// touchLocked inserts/refreshes u in the hot LRU, evicting the oldest
// entry if the index is capacity-bounded. Caller holds idx.mu.
func (idx *FriendIndex) touchLocked(u domain.UID, friends domain.FriendSet) {
	if el, ok := idx.hot[u]; ok {
		el.Value.(*lruEntry).friends = friends
		idx.lru.MoveToFront(el)
		return
	}

	el := idx.lru.PushFront(&lruEntry{user: u, friends: friends})
	idx.hot[u] = el

	if idx.cap > 0 && idx.lru.Len() > idx.cap {
		oldest := idx.lru.Back()
		idx.lru.Remove(oldest)
		delete(idx.hot, oldest.Value.(*lruEntry).user)
	}
}

func friendKey(u domain.UID) []byte {
	return []byte("f/" + uidString(u))
}

func encodeFriends(friends domain.FriendSet) ([]byte, error) {
	list := make([]domain.UID, 0, len(friends))
	for f := range friends {
		list = append(list, f)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(list); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFriends(data []byte) (domain.FriendSet, error) {
	var list []domain.UID
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&list); err != nil {
		return nil, err
	}
	return domain.NewFriendSet(list), nil
}
