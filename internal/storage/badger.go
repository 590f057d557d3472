package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// Compile-time check that BadgerStore implements the durable stores.
var (
	_ ArchiveStore    = (*BadgerStore)(nil)
	_ EngagementStore = (*BadgerStore)(nil)
	_ ABTestStore     = (*BadgerStore)(nil)
	_ HistoryStore    = (*BadgerStore)(nil)
)

// BadgerStore persists archived executions, engagement history and A/B tests in BadgerDB.
// Values are MessagePack encoded.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	stopCh chan struct{}
}

// Prefix keys for different data types.
const (
	prefixArchive    = "archive/"
	prefixEngagement = "engagement/"
	prefixABTests    = "abtests/"
)

// NewStore opens or creates a BadgerDB store under dataDir.
func NewStore(dataDir string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataDir, "sparx.db")

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.ValueLogFileSize = 64 << 20 // 64MB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		stopCh: make(chan struct{}),
	}

	go s.runGC()

	return s, nil
}

// Close closes the database and stops background goroutines.
func (s *BadgerStore) Close() error {
	close(s.stopCh)
	return s.db.Close()
}

// runGC runs periodic value log garbage collection.
func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// Archive Operations

// ArchiveExecutions writes executions to the archive in one batch.
func (s *BadgerStore) ArchiveExecutions(execs []*models.Execution) error {
	if len(execs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, exec := range execs {
		data, err := msgpack.Marshal(exec)
		if err != nil {
			return fmt.Errorf("failed to encode execution %s: %w", exec.ID, err)
		}
		if err := wb.Set(archiveKey(exec), data); err != nil {
			return err
		}
	}

	return wb.Flush()
}

// ListArchivedExecutions returns archived executions newest first.
func (s *BadgerStore) ListArchivedExecutions(workflowID string, limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := []byte(prefixArchive)
	if workflowID != "" {
		prefix = []byte(prefixArchive + workflowID + "/")
	}

	var executions []*models.Execution

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true // Newest first within a workflow
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if workflowID != "" && limit > 0 && len(executions) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var exec models.Execution
				if err := msgpack.Unmarshal(val, &exec); err != nil {
					return err
				}
				executions = append(executions, &exec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys group by workflow first, so a cross-workflow listing needs a sort.
	if workflowID == "" {
		sortNewestFirst(executions)
		if limit > 0 && len(executions) > limit {
			executions = executions[:limit]
		}
	}
	return executions, nil
}

// Engagement Operations

// AppendEngagement appends an observation keyed by its timestamp.
func (s *BadgerStore) AppendEngagement(data *models.EngagementData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode engagement: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(engagementKey(data.Timestamp, uuid.NewString()), value)
	})
}

// ListEngagement returns observations at or after since, oldest first.
func (s *BadgerStore) ListEngagement(since time.Time) ([]*models.EngagementData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := []byte(prefixEngagement)
	var records []*models.EngagementData

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(engagementKey(since, "")); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var data models.EngagementData
				if err := msgpack.Unmarshal(val, &data); err != nil {
					return err
				}
				records = append(records, &data)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return records, err
}

// PruneEngagement deletes observations older than before.
func (s *BadgerStore) PruneEngagement(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := []byte(prefixEngagement)
	limit := engagementKey(before, "")

	var keysToDelete [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(limit) {
				break
			}
			keysToDelete = append(keysToDelete, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keysToDelete) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keysToDelete {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keysToDelete), nil
}

// A/B Test Operations

// SaveABTest stores or replaces an A/B test.
func (s *BadgerStore) SaveABTest(test *models.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msgpack.Marshal(test)
	if err != nil {
		return fmt.Errorf("failed to encode ab test: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixABTests+test.ID), data)
	})
}

// GetABTest retrieves an A/B test by id.
func (s *BadgerStore) GetABTest(id string) (*models.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var test models.ABTest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixABTests + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return models.ErrABTestNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &test)
		})
	})
	if err != nil {
		return nil, err
	}
	return &test, nil
}

// ListABTests returns all A/B tests ordered by start date.
func (s *BadgerStore) ListABTests() ([]*models.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := []byte(prefixABTests)
	var tests []*models.ABTest

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var test models.ABTest
				if err := msgpack.Unmarshal(val, &test); err != nil {
					return err
				}
				tests = append(tests, &test)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tests, func(i, j int) bool {
		if tests[i].StartDate.Equal(tests[j].StartDate) {
			return tests[i].ID < tests[j].ID
		}
		return tests[i].StartDate.Before(tests[j].StartDate)
	})
	return tests, nil
}

// Helper functions for key generation

func archiveKey(exec *models.Execution) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%s", prefixArchive, exec.WorkflowID, sortableTime(exec.CreatedAt), exec.ID))
}

func engagementKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixEngagement, sortableTime(ts), id))
}

// sortableTime renders t so that byte order matches time order. Times before
// the Unix epoch collapse to zero.
func sortableTime(t time.Time) string {
	nanos := t.UnixNano()
	if t.IsZero() || nanos < 0 {
		nanos = 0
	}
	return fmt.Sprintf("%020d", nanos)
}
