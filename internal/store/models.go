package store

import "time"

// Accessory is the cached identity of a virtual accessory.
// Only identity lives here; events are never stored.
type Accessory struct {
	UUID         string    `json:"uuid"`
	DisplayName  string    `json:"display_name"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Model        string    `json:"model,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Firmware     string    `json:"firmware,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	RestoredAt   time.Time `json:"restored_at,omitempty"`
}
