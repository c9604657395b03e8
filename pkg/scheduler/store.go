package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/delta"
)

// FailureStore persists each site's delta-mode failure record
// ((retries, last_failed_time), spec.md §4.E) across agent restarts, so the
// failure budget survives a process crash mid-cooldown.
type FailureStore struct {
	db *badger.DB
}

const failureKeyPrefix = "scheduler:failure:"

// OpenFailureStore opens (creating if necessary) a badger database rooted
// at dir.
func OpenFailureStore(dir string) (*FailureStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, backuperrors.Wrap(backuperrors.Fatal, "scheduler.OpenFailureStore", "open failure-budget store", err)
	}
	return &FailureStore{db: db}, nil
}

// Close releases the underlying database.
func (s *FailureStore) Close() error {
	return s.db.Close()
}

type failureRecordJSON struct {
	Retries        int       `json:"retries"`
	LastFailedTime time.Time `json:"last_failed_time"`
}

// Get returns the site's failure record, or the zero record if none has
// been written yet.
func (s *FailureStore) Get(site string) (delta.FailureRecord, error) {
	var rec delta.FailureRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(failureKeyPrefix + site))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var j failureRecordJSON
			if err := json.Unmarshal(val, &j); err != nil {
				return err
			}
			rec = delta.FailureRecord{Retries: j.Retries, LastFailedTime: j.LastFailedTime}
			return nil
		})
	})
	if err != nil {
		return delta.FailureRecord{}, backuperrors.Wrap(backuperrors.Transient, "scheduler.FailureStore.Get", fmt.Sprintf("read failure record for %s", site), err)
	}
	return rec, nil
}

// Put persists rec for site.
func (s *FailureStore) Put(site string, rec delta.FailureRecord) error {
	data, err := json.Marshal(failureRecordJSON{Retries: rec.Retries, LastFailedTime: rec.LastFailedTime})
	if err != nil {
		return backuperrors.Wrap(backuperrors.Fatal, "scheduler.FailureStore.Put", "marshal failure record", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(failureKeyPrefix+site), data)
	})
	if err != nil {
		return backuperrors.Wrap(backuperrors.Transient, "scheduler.FailureStore.Put", fmt.Sprintf("write failure record for %s", site), err)
	}
	return nil
}

// RecordFailure increments the retry counter and stamps the failure time,
// for a caller that just observed a failed delta-mode backup attempt.
func (s *FailureStore) RecordFailure(site string, at time.Time) error {
	rec, err := s.Get(site)
	if err != nil {
		return err
	}
	rec.Retries++
	rec.LastFailedTime = at
	return s.Put(site, rec)
}

// Reset clears a site's failure record after a successful backup.
func (s *FailureStore) Reset(site string) error {
	return s.Put(site, delta.FailureRecord{})
}
