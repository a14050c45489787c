package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
	seen := map[string]int{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			seen[strings.TrimSuffix(f, ".up.sql")]++
		case strings.HasSuffix(f, ".down.sql"):
			seen[strings.TrimSuffix(f, ".down.sql")]--
		default:
			t.Errorf("unexpected migration file %s", f)
		}
	}
	for name, balance := range seen {
		if balance != 0 {
			t.Errorf("migration %s is missing its up or down file", name)
		}
	}
}

func TestInitialMigrationCreatesTables(t *testing.T) {
	data, err := fs.ReadFile(FS, "000001_webhook_reconciliation.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{
		"processed_events", "bookings", "subscriptions", "users", "plans",
		"transactions", "payment_records", "outbox", "webhook_audit_events",
	} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("expected table %s", table)
		}
	}
}

func TestLiveSubscriptionIndexIsPartial(t *testing.T) {
	data, err := fs.ReadFile(FS, "000002_subscription_live_unique.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(data)
	if !strings.Contains(sql, "CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_user_plan_live_idx") {
		t.Fatal("expected unique live subscription index")
	}
	if !strings.Contains(sql, "status IN ('active', 'suspended')") {
		t.Fatal("index must only cover live subscriptions")
	}
}
