package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAccessories = []byte("accessories")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAccessories)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveAccessory(acc *Accessory) error {
	if acc.UUID == "" {
		return fmt.Errorf("save accessory: empty uuid")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putAccessory(tx, acc)
	})
}

func (s *BoltStore) GetAccessory(uuid string) (*Accessory, error) {
	var acc *Accessory
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		acc, err = getAccessory(tx, uuid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *BoltStore) DeleteAccessory(uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		return b.Delete([]byte(uuid))
	})
}

func (s *BoltStore) ListAccessories() ([]*Accessory, error) {
	var list []*Accessory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return nil
		}
		list = make([]*Accessory, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var acc Accessory
			if err := json.Unmarshal(v, &acc); err != nil {
				return fmt.Errorf("decode accessory %s: %w", k, err)
			}
			list = append(list, &acc)
			return nil
		})
	})
	return list, err
}

func (s *BoltStore) UpdateAccessory(uuid string, fn func(acc *Accessory) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		acc, err := getAccessory(tx, uuid)
		if err != nil {
			return err
		}
		if err := fn(acc); err != nil {
			return err
		}
		// The key is fixed; fn must not move the record.
		acc.UUID = uuid
		return putAccessory(tx, acc)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getAccessory(tx *bolt.Tx, uuid string) (*Accessory, error) {
	b := tx.Bucket(bucketAccessories)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", bucketAccessories)
	}
	data := b.Get([]byte(uuid))
	if data == nil {
		return nil, fmt.Errorf("accessory %s: %w", uuid, ErrNotFound)
	}
	var acc Accessory
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func putAccessory(tx *bolt.Tx, acc *Accessory) error {
	b := tx.Bucket(bucketAccessories)
	if b == nil {
		return fmt.Errorf("bucket %q not found", bucketAccessories)
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return b.Put([]byte(acc.UUID), data)
}
