package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

type tenantSlot struct {
	mu  sync.Mutex
	rec *Record
}

// MemoryStore keeps records in process with one mutex per tenant.
type MemoryStore struct {
	slots sync.Map // tenantID -> *tenantSlot
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) slot(tenantID string) *tenantSlot {
	if v, ok := s.slots.Load(tenantID); ok {
		return v.(*tenantSlot)
	}
	v, _ := s.slots.LoadOrStore(tenantID, &tenantSlot{})
	return v.(*tenantSlot)
}

func (s *MemoryStore) Update(ctx context.Context, tenantID string, fn func(rec *Record) error) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	slot := s.slot(tenantID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	var rec Record
	if slot.rec == nil {
		rec = newRecord(tenantID, utcDate(s.now()))
	} else {
		rec = *slot.rec
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = s.now().UTC()
	slot.rec = &rec
	return rec, nil
}

func (s *MemoryStore) Tenants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	s.slots.Range(func(key, value any) bool {
		slot := value.(*tenantSlot)
		slot.mu.Lock()
		exists := slot.rec != nil
		slot.mu.Unlock()
		if exists {
			out = append(out, key.(string))
		}
		return true
	})
	sort.Strings(out)
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
