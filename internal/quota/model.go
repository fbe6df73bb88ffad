package quota

import "time"

// Kind names a metered resource.
type Kind string

const (
	KindDocuments Kind = "documents"
	KindStorage   Kind = "storage_bytes"
	KindQueries   Kind = "queries"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDocuments, KindStorage, KindQueries:
		return true
	}
	return false
}

// Record is the per-tenant counter row. Document and storage counters track
// committed documents only; in-flight uploads live in the Reserved fields.
type Record struct {
	TenantID          string
	Tier              string
	DocumentCount     int64
	TotalStorageBytes int64
	ReservedDocuments int64
	ReservedBytes     int64
	QueriesToday      int64
	LastResetDate     time.Time
	UpdatedAt         time.Time
}

func newRecord(tenantID string, today time.Time) Record {
	return Record{
		TenantID:      tenantID,
		Tier:          DefaultTier,
		LastResetDate: today,
		UpdatedAt:     time.Now().UTC(),
	}
}

// CommitUpload turns one reserved document of n bytes into a committed one.
func (r *Record) CommitUpload(n int64) {
	r.ReservedDocuments = clampZero(r.ReservedDocuments - 1)
	r.ReservedBytes = clampZero(r.ReservedBytes - n)
	r.DocumentCount++
	r.TotalStorageBytes += n
}

// RemoveDocument subtracts a committed document of n bytes.
func (r *Record) RemoveDocument(n int64) {
	r.DocumentCount = clampZero(r.DocumentCount - 1)
	r.TotalStorageBytes = clampZero(r.TotalStorageBytes - n)
}

// ReplaceDocument swaps a committed document of oldSize bytes for one of
// newSize. The document count is unchanged.
func (r *Record) ReplaceDocument(oldSize, newSize int64) {
	r.TotalStorageBytes = clampZero(r.TotalStorageBytes - oldSize + newSize)
}

// rollover zeroes the daily query counter on the first access of a new UTC day.
func (r *Record) rollover(today time.Time) bool {
	if r.LastResetDate.IsZero() || r.LastResetDate.Before(today) {
		r.QueriesToday = 0
		r.LastResetDate = today
		return true
	}
	return false
}

func (r Record) used(kind Kind) int64 {
	switch kind {
	case KindDocuments:
		return r.DocumentCount + r.ReservedDocuments
	case KindStorage:
		return r.TotalStorageBytes + r.ReservedBytes
	case KindQueries:
		return r.QueriesToday
	}
	return 0
}

// Meter is one line of the usage view.
type Meter struct {
	Used      int64 `json:"used"`
	Reserved  int64 `json:"reserved,omitempty"`
	Limit     int64 `json:"limit"`
	Unlimited bool  `json:"unlimited"`
}

// Usage is the tenant-facing stats view.
type Usage struct {
	TenantID         string `json:"tenantId"`
	Tier             string `json:"tier"`
	Documents        Meter  `json:"documents"`
	StorageBytes     Meter  `json:"storageBytes"`
	QueriesToday     Meter  `json:"queriesToday"`
	QueriesResetDate string `json:"queriesResetDate"`
}

// Totals is the aggregate over a tenant's live documents.
type Totals struct {
	Documents    int64
	StorageBytes int64
}

// Drift reports a reconciliation outcome for one tenant.
type Drift struct {
	TenantID            string `json:"tenantId"`
	DocumentsWas        int64  `json:"documentsWas"`
	DocumentsNow        int64  `json:"documentsNow"`
	StorageWas          int64  `json:"storageBytesWas"`
	StorageNow          int64  `json:"storageBytesNow"`
	ReservationsCleared int64  `json:"reservationsCleared,omitempty"`
}

// Drifted reports whether the counters disagreed with the document table.
func (d Drift) Drifted() bool {
	return d.DocumentsWas != d.DocumentsNow || d.StorageWas != d.StorageNow
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
