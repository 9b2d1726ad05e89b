// Package ledger persists unread markers for new discussions and comments,
// grouped by (community, article).
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

const unreadBucketName = "unread"

var ErrInvalidScope = errors.New("invalid ledger scope")

// Entry is one unread item.
type Entry struct {
	Item    model.UnreadItem `json:"item"`
	AddedAt time.Time        `json:"addedAt"`
}

// Scope is a (community, article) pair with its unread count.
type Scope struct {
	CommunityID int64
	ArticleID   int64
	Unread      int
}

// Ledger stores entries in a bbolt file. The database is opened for each
// operation, so several processes can share one file; bbolt's file lock
// serializes them.
type Ledger struct {
	path    string
	timeout time.Duration
	now     func() time.Time
}

func Open(path string) (*Ledger, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger dir: %w", err)
	}
	l := &Ledger{path: trimmed, timeout: time.Second, now: time.Now}
	if err := l.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(unreadBucketName))
		return err
	}); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Path() string {
	return l.path
}

// AddUnreadItem records item as unread. Adding the same item twice keeps
// the first entry.
func (l *Ledger) AddUnreadItem(communityID, articleID int64, item model.UnreadItem) error {
	entry := Entry{Item: item, AddedAt: l.now().UTC()}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode unread item: %w", err)
	}
	return l.update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket([]byte(unreadBucketName)).CreateBucketIfNotExists(scopeKey(communityID, articleID))
		if err != nil {
			return fmt.Errorf("create scope bucket: %w", err)
		}
		key := []byte(item.Key())
		if bucket.Get(key) != nil {
			return nil
		}
		return bucket.Put(key, value)
	})
}

// Items returns the unread entries of one scope, oldest first.
func (l *Ledger) Items(communityID, articleID int64) ([]Entry, error) {
	var entries []Entry
	err := l.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(unreadBucketName)).Bucket(scopeKey(communityID, articleID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, value []byte) error {
			var e Entry
			if err := json.Unmarshal(value, &e); err != nil {
				return fmt.Errorf("decode unread item %s: %w", key, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AddedAt.Before(entries[j].AddedAt)
	})
	return entries, nil
}

func (l *Ledger) Count(communityID, articleID int64) (int, error) {
	var n int
	err := l.view(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(unreadBucketName)).Bucket(scopeKey(communityID, articleID)); bucket != nil {
			n = bucket.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// MarkRead removes the given item keys from a scope, or the whole scope
// when no keys are given.
func (l *Ledger) MarkRead(communityID, articleID int64, keys ...string) error {
	return l.update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(unreadBucketName))
		name := scopeKey(communityID, articleID)
		bucket := root.Bucket(name)
		if bucket == nil {
			return nil
		}
		if len(keys) == 0 {
			return root.DeleteBucket(name)
		}
		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete unread item %s: %w", key, err)
			}
		}
		return nil
	})
}

// Scopes lists every scope with unread items.
func (l *Ledger) Scopes() ([]Scope, error) {
	var scopes []Scope
	err := l.view(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(unreadBucketName))
		return root.ForEachBucket(func(name []byte) error {
			communityID, articleID, err := parseScopeKey(string(name))
			if err != nil {
				return err
			}
			n := root.Bucket(name).Stats().KeyN
			if n > 0 {
				scopes = append(scopes, Scope{CommunityID: communityID, ArticleID: articleID, Unread: n})
			}
			return nil
		})
	})
	return scopes, err
}

func (l *Ledger) view(fn func(*bolt.Tx) error) error {
	db, err := l.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (l *Ledger) update(fn func(*bolt.Tx) error) error {
	db, err := l.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (l *Ledger) open() (*bolt.DB, error) {
	db, err := bolt.Open(l.path, 0o600, &bolt.Options{Timeout: l.timeout})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return db, nil
}

func scopeKey(communityID, articleID int64) []byte {
	return []byte(strconv.FormatInt(communityID, 10) + "/" + strconv.FormatInt(articleID, 10))
}

func parseScopeKey(key string) (int64, int64, error) {
	community, article, ok := strings.Cut(key, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidScope, key)
	}
	communityID, err := strconv.ParseInt(community, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidScope, key)
	}
	articleID, err := strconv.ParseInt(article, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidScope, key)
	}
	return communityID, articleID, nil
}
