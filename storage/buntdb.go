// Package storage persists the lot ledger and the revenue log.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/raykavin/trailflow/core"
	"github.com/tidwall/buntdb"
)

const (
	// lotKeyPrefix namespaces ledger entries inside the database.
	lotKeyPrefix = "lot:"

	// createdIndexName orders lots by purchase time.
	createdIndexName = "created_index"
)

// BuntLotStorage implements core.LotStorage using BuntDB. Save writes
// the whole lot set in a single transaction so a crash can never leave
// a partial ledger behind.
type BuntLotStorage struct {
	db *buntdb.DB
}

// NewBuntFromMemory creates an in-memory lot storage, used by tests
// and dry runs.
func NewBuntFromMemory() (*BuntLotStorage, error) {
	return NewBuntLotStorage(":memory:")
}

// NewBuntLotStorage opens or creates a file-backed lot storage.
func NewBuntLotStorage(sourceFile string) (*BuntLotStorage, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.EverySecond}); err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	if err := db.CreateIndex(createdIndexName, lotKeyPrefix+"*", buntdb.IndexJSON("created_at")); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &BuntLotStorage{db: db}, nil
}

// Load reads all persisted lots, oldest purchase first.
func (b *BuntLotStorage) Load(_ context.Context) ([]core.Lot, error) {
	lots := make([]core.Lot, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.Ascend(createdIndexName, func(key, value string) bool {
			var lot core.Lot
			if iterErr = json.Unmarshal([]byte(value), &lot); iterErr != nil {
				return false
			}
			lots = append(lots, lot)
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load lots: %w", err)
	}

	return lots, nil
}

// Save replaces the persisted set with the given lots atomically.
func (b *BuntLotStorage) Save(_ context.Context, lots []core.Lot) error {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		var stale []string
		err := tx.AscendKeys(lotKeyPrefix+"*", func(key, _ string) bool {
			stale = append(stale, key)
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}

		for _, lot := range lots {
			content, err := json.Marshal(lot)
			if err != nil {
				return fmt.Errorf("failed to marshal lot %d: %w", lot.OrderID, err)
			}
			key := lotKeyPrefix + strconv.FormatInt(lot.OrderID, 10)
			if _, _, err := tx.Set(key, string(content), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save lots: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *BuntLotStorage) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
