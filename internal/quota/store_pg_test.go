package quota

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var quotaColumns = []string{
	"tier", "document_count", "total_storage_bytes", "reserved_documents", "reserved_bytes",
	"queries_today", "last_reset_date", "updated_at",
}

func newPGLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	ledger := NewLedger(NewPGStore(database), smallTiers())
	ledger.now = func() time.Time { return time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC) }
	return ledger, mock
}

func TestPGReserveUploadDeniedRollsBack(t *testing.T) {
	ledger, mock := newPGLedger(t)
	today := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier, document_count").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("free", 3, 6<<20, 0, 0, 0, today, today))
	mock.ExpectRollback()

	err := ledger.ReserveUpload(context.Background(), "tenant-a", 2<<20)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.EqualError(t, err, "document-count limit reached")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGLazyCreateAndConsumeQuery(t *testing.T) {
	ledger, mock := newPGLedger(t)
	today := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier, document_count").
		WithArgs("tenant-new").
		WillReturnRows(sqlmock.NewRows(quotaColumns))
	mock.ExpectExec("INSERT INTO quotas").
		WithArgs("tenant-new", "free", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT tier, document_count").
		WithArgs("tenant-new").
		WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("free", 0, 0, 0, 0, 0, today, today))
	mock.ExpectExec("UPDATE quotas").
		WithArgs("free", int64(0), int64(0), int64(0), int64(0), int64(1), today, sqlmock.AnyArg(), "tenant-new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ledger.ConsumeQuery(context.Background(), "tenant-new"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRolloverResetsBeforeIncrement(t *testing.T) {
	ledger, mock := newPGLedger(t)
	yesterday := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	today := yesterday.AddDate(0, 0, 1)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier, document_count").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("free", 1, 10, 0, 0, 5, yesterday, yesterday))
	mock.ExpectExec("UPDATE quotas").
		WithArgs("free", int64(1), int64(10), int64(0), int64(0), int64(1), today, sqlmock.AnyArg(), "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ledger.ConsumeQuery(context.Background(), "tenant-a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGReconcileReadsTotalsInsideLock(t *testing.T) {
	ledger, mock := newPGLedger(t)
	today := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT tier, document_count").
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow("free", 4, 400, 0, 0, 0, today, today))
	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(size_bytes\), 0\)`).
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(3, 300))
	mock.ExpectExec("UPDATE quotas").
		WithArgs("free", int64(3), int64(300), int64(0), int64(0), int64(0), today, sqlmock.AnyArg(), "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	d, err := ledger.Reconcile(context.Background(), "tenant-a", ReconcileOptions{})
	require.NoError(t, err)
	require.True(t, d.Drifted())
	require.Equal(t, int64(4), d.DocumentsWas)
	require.Equal(t, int64(3), d.DocumentsNow)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGTenants(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectQuery("SELECT tenant_id FROM quotas").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("a").AddRow("b"))

	tenants, err := NewPGStore(database).Tenants(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, tenants)
}
