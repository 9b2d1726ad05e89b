package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dgnsrekt/realtime-sync/internal/sharedstate"
)

// Shared store keys.
const (
	KeyQueueID     = "realtime:queueId"
	KeyLastEventID = "realtime:lastEventId"
	KeyLeader      = "realtime:leader"
)

// LeaseRecord advertises which tab currently polls for the origin.
type LeaseRecord struct {
	HolderID        string `json:"holderId"`
	RenewedAtMillis int64  `json:"renewedAtMillis"`
}

// Stale reports whether the record has gone unrenewed for more than 2×ttl.
func (l LeaseRecord) Stale(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-l.RenewedAtMillis > (2 * ttl).Milliseconds()
}

// loadQueueState reads the persisted queue handle. A missing or partial pair
// reads as the zero QueueState.
func loadQueueState(store sharedstate.Store) (QueueState, error) {
	queueID, okQueue, err := store.Get(KeyQueueID)
	if err != nil {
		return QueueState{}, err
	}
	cursor, okCursor, err := store.Get(KeyLastEventID)
	if err != nil {
		return QueueState{}, err
	}
	if !okQueue || !okCursor || queueID == "" {
		return QueueState{}, nil
	}
	last, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return QueueState{}, nil
	}
	return QueueState{QueueID: queueID, LastEventID: last}, nil
}

func saveQueueState(store sharedstate.Store, qs QueueState) error {
	if err := store.Set(KeyQueueID, qs.QueueID); err != nil {
		return err
	}
	return store.Set(KeyLastEventID, strconv.FormatInt(qs.LastEventID, 10))
}

func clearQueueState(store sharedstate.Store) error {
	if err := store.Delete(KeyQueueID); err != nil {
		return err
	}
	return store.Delete(KeyLastEventID)
}

// loadLease returns the lease record, with ok false when absent or unreadable.
func loadLease(store sharedstate.Store) (LeaseRecord, bool, error) {
	raw, ok, err := store.Get(KeyLeader)
	if err != nil || !ok {
		return LeaseRecord{}, false, err
	}
	var rec LeaseRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.HolderID == "" {
		return LeaseRecord{}, false, nil
	}
	return rec, true, nil
}

func saveLease(store sharedstate.Store, rec LeaseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding lease: %w", err)
	}
	return store.Set(KeyLeader, string(data))
}
