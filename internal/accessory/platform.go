package accessory

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bticino-bridge/internal/store"
)

// ErrNotReady is returned when the doorbell is used before SetupAccessory.
var ErrNotReady = errors.New("doorbell accessory not set up")

// SinglePress is the programmable-switch value for one doorbell ring.
const SinglePress = 0

// Identity describes the virtual doorbell accessory.
type Identity struct {
	Identifier   string
	Name         string
	Manufacturer string
	Model        string
	Serial       string
}

// UUID derives the stable accessory UUID from the identifier and name.
func (id Identity) UUID() string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("bticino-bridge:"+id.Identifier+":"+id.Name)).String()
}

// Platform owns the doorbell accessory and republishes controller
// callbacks as events.
type Platform struct {
	identity Identity
	store    store.Store // optional
	events   *EventBus
	logger   *slog.Logger

	mu       sync.RWMutex
	cache    map[string]*store.Accessory // uuid -> cached accessory
	doorbell *store.Accessory
	locked   bool
	lockSeen bool
}

// NewPlatform creates a platform. db may be nil, in which case the
// accessory is not persisted.
func NewPlatform(identity Identity, db store.Store, events *EventBus, logger *slog.Logger) *Platform {
	return &Platform{
		identity: identity,
		store:    db,
		events:   events,
		logger:   logger.With("component", "accessory"),
		cache:    make(map[string]*store.Accessory),
	}
}

// Identity returns the configured accessory identity.
func (p *Platform) Identity() Identity {
	return p.identity
}

// Events returns the platform's event bus.
func (p *Platform) Events() *EventBus {
	return p.events
}

// ConfigureAccessory adds a previously persisted accessory to the cache.
// It is called for each cached accessory before SetupAccessory.
func (p *Platform) ConfigureAccessory(acc *store.Accessory) {
	if acc == nil || acc.UUID == "" {
		return
	}
	p.mu.Lock()
	p.cache[acc.UUID] = acc
	p.mu.Unlock()
	p.logger.Info("restoring cached accessory", "uuid", acc.UUID, "name", acc.DisplayName)
}

// SetupAccessory reuses the cached doorbell accessory or creates a new one,
// applies identity metadata, and marks the doorbell ready. Cached accessories
// that no longer match the configured identity are dropped.
func (p *Platform) SetupAccessory() *store.Accessory {
	id := p.identity.UUID()
	now := time.Now()

	p.mu.Lock()
	acc, restored := p.cache[id]
	if restored {
		acc.RestoredAt = now
	} else {
		acc = &store.Accessory{UUID: id, CreatedAt: now}
		p.cache[id] = acc
	}
	acc.DisplayName = p.identity.Name
	acc.Manufacturer = p.identity.Manufacturer
	acc.Model = p.identity.Model
	acc.SerialNumber = p.identity.Serial

	var stale []string
	for key := range p.cache {
		if key != id {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		delete(p.cache, key)
	}
	p.doorbell = acc
	snapshot := *acc
	p.mu.Unlock()

	if p.store != nil {
		for _, key := range stale {
			if err := p.store.DeleteAccessory(key); err != nil {
				p.logger.Warn("remove stale accessory", "uuid", key, "err", err)
			}
		}
		if err := p.persist(&snapshot); err != nil {
			p.logger.Warn("persist accessory", "uuid", id, "err", err)
		}
	}
	for _, key := range stale {
		p.logger.Info("removed stale cached accessory", "uuid", key)
	}

	if restored {
		p.logger.Info("doorbell accessory restored from cache", "uuid", id, "name", snapshot.DisplayName)
	} else {
		p.logger.Info("doorbell accessory created", "uuid", id, "name", snapshot.DisplayName)
	}

	p.emit(EventAccessoryReady, map[string]any{
		"uuid":     id,
		"name":     snapshot.DisplayName,
		"restored": restored,
	})
	return &snapshot
}

// Ready reports whether SetupAccessory has run.
func (p *Platform) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doorbell != nil
}

// Accessory returns a copy of the doorbell accessory, or nil before setup.
func (p *Platform) Accessory() *store.Accessory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doorbell == nil {
		return nil
	}
	acc := *p.doorbell
	return &acc
}

// Accessories returns copies of all cached accessories, ordered by UUID.
func (p *Platform) Accessories() []*store.Accessory {
	p.mu.RLock()
	list := make([]*store.Accessory, 0, len(p.cache))
	for _, acc := range p.cache {
		c := *acc
		list = append(list, &c)
	}
	p.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].UUID < list[j].UUID })
	return list
}

// TriggerDoorbellPressed pushes a single-press event for the doorbell.
func (p *Platform) TriggerDoorbellPressed() error {
	acc := p.Accessory()
	if acc == nil {
		return ErrNotReady
	}
	p.emit(EventDoorbellPressed, map[string]any{
		"uuid":  acc.UUID,
		"name":  acc.DisplayName,
		"value": SinglePress,
		"label": "single_press",
	})
	return nil
}

// SetLockState records the door lock state. The last call wins.
func (p *Platform) SetLockState(locked bool) {
	p.mu.Lock()
	p.locked = locked
	p.lockSeen = true
	var id string
	if p.doorbell != nil {
		id = p.doorbell.UUID
	}
	p.mu.Unlock()

	eventType := EventDoorUnlocked
	if locked {
		eventType = EventDoorLocked
	}
	p.emit(eventType, map[string]any{
		"uuid":   id,
		"locked": locked,
	})
}

// LockState returns the last reported lock state. known is false until the
// controller has reported one.
func (p *Platform) LockState() (locked, known bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.locked, p.lockSeen
}

// persist updates the stored accessory in place, keeping its original
// creation time, or saves it when it is not stored yet.
func (p *Platform) persist(acc *store.Accessory) error {
	err := p.store.UpdateAccessory(acc.UUID, func(cur *store.Accessory) error {
		created := cur.CreatedAt
		*cur = *acc
		if !created.IsZero() {
			cur.CreatedAt = created
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return p.store.SaveAccessory(acc)
	}
	return err
}

func (p *Platform) emit(eventType string, data map[string]any) {
	if p.events == nil {
		return
	}
	p.events.Emit(Event{Type: eventType, Data: data, Timestamp: time.Now()})
}
