package engine

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupCapTest(t *testing.T) (*DailyCap, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDailyCap(client), mr
}

func TestDailyCap_TakeUntilExhausted(t *testing.T) {
	cap, _ := setupCapTest(t)
	ctx := context.Background()
	campaignID := uuid.New()

	for i := 0; i < 3; i++ {
		ok, err := cap.Take(ctx, campaignID, 3)
		if err != nil {
			t.Fatalf("Take %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Take %d: expected slot under the cap", i)
		}
	}

	ok, err := cap.Take(ctx, campaignID, 3)
	if err != nil {
		t.Fatalf("Take over cap: %v", err)
	}
	if ok {
		t.Error("expected cap to be exhausted after 3 takes")
	}

	used, err := cap.Used(ctx, campaignID)
	if err != nil {
		t.Fatalf("Used: %v", err)
	}
	if used != 3 {
		t.Errorf("Used = %d, want 3", used)
	}
}

func TestDailyCap_CampaignsAreIndependent(t *testing.T) {
	cap, _ := setupCapTest(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	if ok, _ := cap.Take(ctx, a, 1); !ok {
		t.Fatal("campaign a: first take should succeed")
	}
	if ok, _ := cap.Take(ctx, a, 1); ok {
		t.Error("campaign a: cap of 1 should be exhausted")
	}
	if ok, _ := cap.Take(ctx, b, 1); !ok {
		t.Error("campaign b: must not share campaign a's counter")
	}
}

func TestDailyCap_ZeroLimitIsUncapped(t *testing.T) {
	cap, _ := setupCapTest(t)
	ctx := context.Background()
	campaignID := uuid.New()

	for i := 0; i < 10; i++ {
		ok, err := cap.Take(ctx, campaignID, 0)
		if err != nil || !ok {
			t.Fatalf("Take %d with no limit = %v, %v; want true, nil", i, ok, err)
		}
	}
}

func TestDailyCap_NilClientIsUncapped(t *testing.T) {
	cap := NewDailyCap(nil)
	ok, err := cap.Take(context.Background(), uuid.New(), 1)
	if err != nil || !ok {
		t.Fatalf("Take with nil client = %v, %v; want true, nil", ok, err)
	}
}
