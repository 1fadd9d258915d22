package subscriptions

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})
	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return NewRepository(conn), mock
}

func TestListDueQueriesActiveAndPastDue(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Date(2026, 5, 15, 6, 0, 0, 0, time.UTC)
	id := uuid.New()

	query := regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE (status IN ($1,$2) AND next_charge_at <= $3) AND (failed_charge_attempts < $4 OR cancel_at_period_end = $5) ORDER BY next_charge_at ASC,id ASC LIMIT`)
	rows := sqlmock.NewRows([]string{"id", "status", "next_charge_at"}).AddRow(id.String(), "past_due", now.Add(-time.Hour))
	mock.ExpectQuery(query).WillReturnRows(rows)

	due, err := repo.ListDue(context.Background(), DueQuery{Now: now, MaxFailures: 3, Limit: 10})
	if err != nil {
		t.Fatalf("ListDue returned error: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("unexpected due rows: %+v", due)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListDueContinuesAfterCursor(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Date(2026, 5, 15, 6, 0, 0, 0, time.UTC)
	after := &DueCursor{NextChargeAt: now.Add(-2 * time.Hour), ID: uuid.New()}

	mock.ExpectQuery(`AND \(next_charge_at > \$6 OR \(next_charge_at = \$7 AND id > \$8\)\) ORDER BY next_charge_at ASC,id ASC LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	due, err := repo.ListDue(context.Background(), DueQuery{Now: now, MaxFailures: 3, After: after, Limit: 2})
	if err != nil {
		t.Fatalf("ListDue returned error: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected empty page, got %+v", due)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByIDForUpdateLocksRow(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))

	sub, err := repo.FindByIDForUpdate(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByIDForUpdate returned error: %v", err)
	}
	if sub == nil || sub.ID != id {
		t.Fatalf("expected subscription %s, got %+v", id, sub)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByIDForUpdateMissingRow(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sub, err := repo.FindByIDForUpdate(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if sub != nil {
		t.Fatalf("expected nil subscription, got %+v", sub)
	}
}
