package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAccessory() *Accessory {
	return &Accessory{
		UUID:         "8a1f6e0c-3b5d-5c8e-9f41-0d2b7a6c1e11",
		DisplayName:  "BTicino Doorbell",
		Manufacturer: "BTicino",
		Model:        "Classe 300",
		SerialNumber: "home1",
		CreatedAt:    time.Now().Truncate(time.Millisecond),
	}
}

func TestSaveAndGetAccessory(t *testing.T) {
	s := newTestStore(t)
	acc := testAccessory()

	if err := s.SaveAccessory(acc); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAccessory(acc.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != acc.DisplayName {
		t.Errorf("display_name = %q, want %q", got.DisplayName, acc.DisplayName)
	}
	if got.Manufacturer != acc.Manufacturer || got.Model != acc.Model || got.SerialNumber != acc.SerialNumber {
		t.Errorf("identity = %+v, want %+v", got, acc)
	}
	if !got.CreatedAt.Equal(acc.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, acc.CreatedAt)
	}
}

func TestSaveAccessoryEmptyUUID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveAccessory(&Accessory{DisplayName: "x"}); err == nil {
		t.Error("expected error for empty uuid")
	}
}

func TestGetAccessoryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAccessory("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListAndDeleteAccessories(t *testing.T) {
	s := newTestStore(t)
	a := testAccessory()
	b := testAccessory()
	b.UUID = "1c2d3e4f-0000-5000-8000-000000000002"
	b.DisplayName = "Side Door"

	for _, acc := range []*Accessory{a, b} {
		if err := s.SaveAccessory(acc); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListAccessories()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list len = %d, want 2", len(list))
	}

	if err := s.DeleteAccessory(a.UUID); err != nil {
		t.Fatal(err)
	}
	list, err = s.ListAccessories()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UUID != b.UUID {
		t.Errorf("after delete: %+v", list)
	}
}

func TestUpdateAccessory(t *testing.T) {
	s := newTestStore(t)
	acc := testAccessory()
	if err := s.SaveAccessory(acc); err != nil {
		t.Fatal(err)
	}

	restored := time.Now().Truncate(time.Millisecond)
	err := s.UpdateAccessory(acc.UUID, func(a *Accessory) error {
		a.RestoredAt = restored
		a.UUID = "moved"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAccessory(acc.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.RestoredAt.Equal(restored) {
		t.Errorf("restored_at = %v, want %v", got.RestoredAt, restored)
	}
	if _, err := s.GetAccessory("moved"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update must not move the record, err = %v", err)
	}

	err = s.UpdateAccessory("missing", func(*Accessory) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}
}

func TestReopenKeepsAccessories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	acc := testAccessory()
	if err := s.SaveAccessory(acc); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if _, err := s2.GetAccessory(acc.UUID); err != nil {
		t.Errorf("after reopen: %v", err)
	}
}
