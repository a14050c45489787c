package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var subscriptionRowColumns = []string{"id", "user_id", "plan_id", "status", "provider", "external_subscription_id", "start_date", "updated_at"}

func TestGetPlan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository("")
	if repo.FreePlanID() != "free" {
		t.Fatalf("expected free default, got %s", repo.FreePlanID())
	}

	mock.ExpectQuery("FROM plans").WithArgs("free").WillReturnRows(
		pgxmock.NewRows([]string{"id", "name", "price_cents", "currency", "period"}).AddRow("free", "Free", int64(0), "PHP", "none"),
	)
	plan, err := repo.FreePlan(context.Background(), mock)
	if err != nil || plan.PriceCents != 0 || plan.Name != "Free" {
		t.Fatalf("unexpected free plan %#v err=%v", plan, err)
	}

	mock.ExpectQuery("FROM plans").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetPlan(context.Background(), mock, "ghost"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetForUpdateFallsBackToUserPlan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository("free")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("external_subscription_id = \\$2").WithArgs("paypal", "I-NEW").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("status IN \\('active', 'suspended'\\)").WithArgs("U1", "pro", "I-NEW").WillReturnRows(
		pgxmock.NewRows(subscriptionRowColumns).AddRow("S1", "U1", "pro", "suspended", "paypal", pgtype.Text{}, start, start),
	)
	sub, err := repo.GetForUpdate(context.Background(), mock, "paypal", "I-NEW", "U1", "pro")
	if err != nil {
		t.Fatalf("GetForUpdate returned error: %v", err)
	}
	if sub == nil || sub.ID != "S1" || sub.Status != StatusSuspended {
		t.Fatalf("unexpected subscription %#v", sub)
	}

	mock.ExpectQuery("external_subscription_id = \\$2").WithArgs("paypal", "I-NONE").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("user_id = \\$1 AND plan_id = \\$2").WithArgs("U2", "pro", "I-NONE").WillReturnError(pgx.ErrNoRows)
	sub, err = repo.GetForUpdate(context.Background(), mock, "paypal", "I-NONE", "U2", "pro")
	if err != nil || sub != nil {
		t.Fatalf("expected no subscription, got %#v err=%v", sub, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository("free")
	mock.ExpectQuery("FROM users").WithArgs("U1").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("U1"))
	if err := repo.LockUser(context.Background(), mock, "U1"); err != nil {
		t.Fatalf("LockUser returned error: %v", err)
	}

	mock.ExpectQuery("FROM users").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	if err := repo.LockUser(context.Background(), mock, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertAndSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewRepository("free")
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{UserID: "U1", PlanID: "pro", Status: StatusActive, Provider: "paypal", ExternalSubscriptionID: "I-1", StartDate: start}

	mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs(pgxmock.AnyArg(), "U1", "pro", "active", "paypal", pgtype.Text{String: "I-1", Valid: true}, start).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := repo.Insert(context.Background(), mock, sub); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("expected generated id")
	}

	plan := Plan{ID: "pro", PriceCents: 49900, Currency: "PHP", Period: "monthly"}
	mock.ExpectExec("UPDATE users").
		WithArgs("U1", pgtype.Text{String: sub.ID, Valid: true}, "pro", "active", int64(49900), "PHP", "monthly").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.WriteSnapshot(context.Background(), mock, "U1", SnapshotFor(sub.ID, plan, StatusActive)); err != nil {
		t.Fatalf("WriteSnapshot returned error: %v", err)
	}

	mock.ExpectExec("UPDATE users").
		WithArgs("ghost", pgtype.Text{}, "free", "", int64(0), "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := repo.WriteSnapshot(context.Background(), mock, "ghost", Snapshot{PlanID: "free"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	mock.ExpectExec("UPDATE subscriptions").WithArgs(sub.ID, "cancelled").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.UpdateStatus(context.Background(), mock, sub.ID, StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
