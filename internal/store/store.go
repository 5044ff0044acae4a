package store

import "errors"

// ErrNotFound is returned when a requested accessory does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store persists the accessory cache between restarts.
type Store interface {
	SaveAccessory(acc *Accessory) error
	GetAccessory(uuid string) (*Accessory, error)
	DeleteAccessory(uuid string) error
	ListAccessories() ([]*Accessory, error)

	// UpdateAccessory atomically reads, modifies, and saves an accessory in a
	// single transaction. Returns ErrNotFound if the accessory does not exist.
	UpdateAccessory(uuid string, fn func(acc *Accessory) error) error

	Close() error
}
