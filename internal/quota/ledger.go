package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

// Ledger gates billable actions against per-tenant plan limits.
type Ledger struct {
	store  Store
	tiers  Tiers
	totals TotalsSource
	now    func() time.Time
}

// NewLedger builds a Ledger; nil tiers means DefaultTiers.
func NewLedger(store Store, tiers Tiers) *Ledger {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Ledger{store: store, tiers: tiers, now: time.Now}
}

// NewMemoryLedger is a Ledger over a fresh MemoryStore.
func NewMemoryLedger(tiers Tiers) *Ledger {
	return NewLedger(NewMemoryStore(), tiers)
}

// SetTotalsSource wires the document aggregate used by Reconcile.
func (l *Ledger) SetTotalsSource(src TotalsSource) {
	l.totals = src
}

func (l *Ledger) Tiers() Tiers {
	return l.tiers
}

// Update runs fn with exclusive access to the tenant's record after the
// daily rollover. Record stores call it to change their rows and the
// counters as one step.
func (l *Ledger) Update(ctx context.Context, tenantID string, fn func(rec *Record) error) (Record, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Record{}, fmt.Errorf("quota: tenant is required")
	}
	today := utcDate(l.now())
	return l.store.Update(ctx, tenantID, func(rec *Record) error {
		rec.rollover(today)
		return fn(rec)
	})
}

// CheckAndReserve admits amount units of kind and holds them until Commit or
// Release. For queries the reservation is the consumption itself.
func (l *Ledger) CheckAndReserve(ctx context.Context, tenantID string, kind Kind, amount int64) error {
	if !kind.Valid() || amount < 0 {
		return ErrInvalidAmount
	}
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		if err := l.admit(rec, kind, amount); err != nil {
			return err
		}
		reserve(rec, kind, amount)
		return nil
	})
	return err
}

// Commit moves delta units from reserved to committed. A negative delta
// subtracts committed usage without touching reservations.
func (l *Ledger) Commit(ctx context.Context, tenantID string, kind Kind, delta int64) error {
	if !kind.Valid() {
		return ErrInvalidAmount
	}
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		switch kind {
		case KindDocuments:
			if delta > 0 {
				rec.ReservedDocuments = clampZero(rec.ReservedDocuments - delta)
			}
			rec.DocumentCount = clampZero(rec.DocumentCount + delta)
		case KindStorage:
			if delta > 0 {
				rec.ReservedBytes = clampZero(rec.ReservedBytes - delta)
			}
			rec.TotalStorageBytes = clampZero(rec.TotalStorageBytes + delta)
		case KindQueries:
			// consumed at reservation time
		}
		return nil
	})
	return err
}

// Release gives back a reservation after a downstream failure.
func (l *Ledger) Release(ctx context.Context, tenantID string, kind Kind, amount int64) error {
	if !kind.Valid() || amount < 0 {
		return ErrInvalidAmount
	}
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		release(rec, kind, amount)
		return nil
	})
	return err
}

// CheckDailyQuery admits one query without consuming it.
func (l *Ledger) CheckDailyQuery(ctx context.Context, tenantID string) error {
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		return l.admit(rec, KindQueries, 1)
	})
	return err
}

// ConsumeQuery is the atomic check-reset-increment for one query.
func (l *Ledger) ConsumeQuery(ctx context.Context, tenantID string) error {
	return l.CheckAndReserve(ctx, tenantID, KindQueries, 1)
}

// ReserveUpload admits one document of n bytes against both limits at once.
func (l *Ledger) ReserveUpload(ctx context.Context, tenantID string, n int64) error {
	if n < 0 {
		return ErrInvalidAmount
	}
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		if err := l.admit(rec, KindDocuments, 1); err != nil {
			return err
		}
		if err := l.admit(rec, KindStorage, n); err != nil {
			return err
		}
		reserve(rec, KindDocuments, 1)
		reserve(rec, KindStorage, n)
		return nil
	})
	return err
}

// ReleaseUpload drops a ReserveUpload reservation.
func (l *Ledger) ReleaseUpload(ctx context.Context, tenantID string, n int64) error {
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		release(rec, KindDocuments, 1)
		release(rec, KindStorage, n)
		return nil
	})
	return err
}

// CommitUpload makes a ReserveUpload reservation permanent.
func (l *Ledger) CommitUpload(ctx context.Context, tenantID string, n int64) error {
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		rec.CommitUpload(n)
		return nil
	})
	return err
}

// Decrement subtracts one deleted document of n bytes.
func (l *Ledger) Decrement(ctx context.Context, tenantID string, n int64) error {
	_, err := l.Update(ctx, tenantID, func(rec *Record) error {
		rec.RemoveDocument(n)
		return nil
	})
	return err
}

// Usage returns the tenant's stats view.
func (l *Ledger) Usage(ctx context.Context, tenantID string) (Usage, error) {
	rec, err := l.Update(ctx, tenantID, func(rec *Record) error { return nil })
	if err != nil {
		return Usage{}, err
	}
	return l.view(rec), nil
}

// SetTier moves the tenant to another plan.
func (l *Ledger) SetTier(ctx context.Context, tenantID, tier string) (Usage, error) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if _, ok := l.tiers[tier]; !ok {
		return Usage{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	rec, err := l.Update(ctx, tenantID, func(rec *Record) error {
		rec.Tier = tier
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	telemetry.Info("quota.tier_changed", map[string]any{"tenant_id": tenantID, "tier": tier})
	return l.view(rec), nil
}

// Reset zeroes today's query counter.
func (l *Ledger) Reset(ctx context.Context, tenantID string) (Usage, error) {
	today := utcDate(l.now())
	rec, err := l.Update(ctx, tenantID, func(rec *Record) error {
		rec.QueriesToday = 0
		rec.LastResetDate = today
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	return l.view(rec), nil
}

// ReconcileOptions tunes Reconcile.
type ReconcileOptions struct {
	// ClearReservations drops in-flight reservations, for use when no
	// upload can be running (for example after a crash).
	ClearReservations bool
}

type totalsUpdater interface {
	UpdateWithTotals(ctx context.Context, tenantID string, fn func(rec *Record, t Totals) error) (Record, error)
}

// Reconcile recomputes the committed counters from the document table under
// the tenant's lock and reports any drift.
func (l *Ledger) Reconcile(ctx context.Context, tenantID string, opts ReconcileOptions) (Drift, error) {
	drift := Drift{TenantID: tenantID}
	today := utcDate(l.now())
	apply := func(rec *Record, t Totals) error {
		rec.rollover(today)
		drift.DocumentsWas, drift.StorageWas = rec.DocumentCount, rec.TotalStorageBytes
		drift.DocumentsNow, drift.StorageNow = t.Documents, t.StorageBytes
		rec.DocumentCount, rec.TotalStorageBytes = t.Documents, t.StorageBytes
		if opts.ClearReservations {
			drift.ReservationsCleared = rec.ReservedDocuments
			rec.ReservedDocuments, rec.ReservedBytes = 0, 0
		}
		return nil
	}

	var err error
	if tu, ok := l.store.(totalsUpdater); ok {
		_, err = tu.UpdateWithTotals(ctx, tenantID, apply)
	} else {
		if l.totals == nil {
			return Drift{}, errors.New("quota: reconcile needs a totals source")
		}
		_, err = l.store.Update(ctx, tenantID, func(rec *Record) error {
			t, err := l.totals.Totals(ctx, tenantID)
			if err != nil {
				return err
			}
			return apply(rec, t)
		})
	}
	if err != nil {
		return Drift{}, err
	}

	if drift.Drifted() {
		metrics.IncQuotaDrift()
		telemetry.Error("quota.drift", map[string]any{
			"tenant_id":         tenantID,
			"documents_was":     drift.DocumentsWas,
			"documents_now":     drift.DocumentsNow,
			"storage_bytes_was": drift.StorageWas,
			"storage_bytes_now": drift.StorageNow,
		})
	}
	return drift, nil
}

// ReconcileAll reconciles every tenant that has a quota record.
func (l *Ledger) ReconcileAll(ctx context.Context, opts ReconcileOptions) ([]Drift, error) {
	tenants, err := l.store.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Drift, 0, len(tenants))
	for _, tenantID := range tenants {
		d, err := l.Reconcile(ctx, tenantID, opts)
		if err != nil {
			return out, fmt.Errorf("reconcile %s: %w", tenantID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (l *Ledger) admit(rec *Record, kind Kind, amount int64) error {
	tier := l.tiers.Lookup(rec.Tier)
	limit := tier.Limit(kind)
	if limit < 0 {
		return nil
	}
	used := rec.used(kind)
	if used+amount <= limit {
		return nil
	}
	metrics.IncQuotaDenied(string(kind))
	telemetry.Warn("quota.denied", map[string]any{
		"tenant_id": rec.TenantID,
		"kind":      string(kind),
		"tier":      rec.Tier,
		"limit":     limit,
		"used":      used,
		"requested": amount,
	})
	return &ExceededError{Kind: kind, Tier: rec.Tier, Limit: limit, Used: used, Requested: amount}
}

func (l *Ledger) view(rec Record) Usage {
	tier := l.tiers.Lookup(rec.Tier)
	meter := func(used, reserved int64, kind Kind) Meter {
		limit := tier.Limit(kind)
		return Meter{Used: used, Reserved: reserved, Limit: limit, Unlimited: limit < 0}
	}
	return Usage{
		TenantID:         rec.TenantID,
		Tier:             rec.Tier,
		Documents:        meter(rec.DocumentCount, rec.ReservedDocuments, KindDocuments),
		StorageBytes:     meter(rec.TotalStorageBytes, rec.ReservedBytes, KindStorage),
		QueriesToday:     meter(rec.QueriesToday, 0, KindQueries),
		QueriesResetDate: rec.LastResetDate.Format("2006-01-02"),
	}
}

func reserve(rec *Record, kind Kind, amount int64) {
	switch kind {
	case KindDocuments:
		rec.ReservedDocuments += amount
	case KindStorage:
		rec.ReservedBytes += amount
	case KindQueries:
		rec.QueriesToday += amount
	}
}

func release(rec *Record, kind Kind, amount int64) {
	switch kind {
	case KindDocuments:
		rec.ReservedDocuments = clampZero(rec.ReservedDocuments - amount)
	case KindStorage:
		rec.ReservedBytes = clampZero(rec.ReservedBytes - amount)
	case KindQueries:
		rec.QueriesToday = clampZero(rec.QueriesToday - amount)
	}
}
