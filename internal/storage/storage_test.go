package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"currency-exchange-bot/internal/config"
	"currency-exchange-bot/internal/currency"
)

func TestDayTruncatesToUTCDate(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	got := Day(time.Date(2024, 3, 2, 1, 30, 0, 0, loc))
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestUnconfiguredStoreReturnsErrNotConfigured(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if err := s.EnsureSchema(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := s.UpsertSnapshots(ctx, time.Now(), currency.Table{currency.USD: decimal.NewFromInt(90)}, "test"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("UpsertSnapshots: %v", err)
	}
	if _, err := s.ListHistory(ctx, "USD", time.Now(), time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListHistory: %v", err)
	}
	if _, err := s.CountSnapshots(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("CountSnapshots: %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("TryAdvisoryLock: %v", err)
	}
	s.Close()
}

func TestNewPoolRejectsMissingOrBadDSN(t *testing.T) {
	ctx := context.Background()
	if _, err := NewPool(ctx, config.DatabaseConfig{}, "exchangebot"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("空 DSN 应返回 ErrNotConfigured, 实际 %v", err)
	}
	if _, err := NewPool(ctx, config.DatabaseConfig{DSN: "postgres://%zz"}, "exchangebot"); err == nil {
		t.Fatal("非法 DSN 应报错")
	}
}
