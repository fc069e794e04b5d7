package cache

import (
	"context"
	"testing"
	"time"

	"github.com/fraudlab/harrier/internal/domain"
)

const testTenant = "tenant-a"

func TestLRUSetGet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, testTenant, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := c.Get(ctx, testTenant, "k1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("expected v1, got %q", got)
	}
}

func TestLRUGetMissing(t *testing.T) {
	c := NewLRUCache(10)

	got, err := c.Get(context.Background(), testTenant, "missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %q", got)
	}
}

func TestLRUDelete(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, testTenant, "k1", []byte("v1"), time.Minute)
	if err := c.Delete(ctx, testTenant, "k1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, _ := c.Get(ctx, testTenant, "k1")
	if got != nil {
		t.Errorf("expected nil after delete, got %q", got)
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, testTenant, "k1", []byte("v1"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	got, err := c.Get(ctx, testTenant, "k1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected expired entry to be gone, got %q", got)
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	c.Set(ctx, testTenant, "k1", []byte("v1"), time.Minute)
	c.Set(ctx, testTenant, "k2", []byte("v2"), time.Minute)

	// Touch k1 so k2 becomes the eviction candidate.
	c.Get(ctx, testTenant, "k1")

	c.Set(ctx, testTenant, "k3", []byte("v3"), time.Minute)

	if got, _ := c.Get(ctx, testTenant, "k2"); got != nil {
		t.Error("expected k2 to be evicted")
	}
	if got, _ := c.Get(ctx, testTenant, "k1"); string(got) != "v1" {
		t.Error("expected k1 to survive eviction")
	}
	if got, _ := c.Get(ctx, testTenant, "k3"); string(got) != "v3" {
		t.Error("expected k3 to be present")
	}
}

func TestLRUTenantIsolation(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "tenant-a", "k1", []byte("a"), time.Minute)
	c.Set(ctx, "tenant-b", "k1", []byte("b"), time.Minute)

	gotA, _ := c.Get(ctx, "tenant-a", "k1")
	gotB, _ := c.Get(ctx, "tenant-b", "k1")

	if string(gotA) != "a" || string(gotB) != "b" {
		t.Errorf("tenant keys must not collide: a=%q b=%q", gotA, gotB)
	}
}

func TestLRUEmptyTenantRejected(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "", "k1", []byte("v1"), time.Minute); err == nil {
		t.Error("expected error for empty tenant on Set")
	}
	if _, err := c.Get(ctx, "", "k1"); err == nil {
		t.Error("expected error for empty tenant on Get")
	}
}

func TestLRUResultRoundtrip(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	res := &domain.DetectionResult{
		ID: "RES001",
		Transaction: domain.Transaction{
			TransactionID: "TX001",
			UserID:        "USER001",
			Amount:        15000,
			Merchant:      "Acme",
			Location:      "Boston",
			Timestamp:     "2024-01-01T10:00:00",
			CardLast4:     "1234",
		},
		RiskLevel:    domain.RiskCritical,
		RiskScore:    100,
		IsFraudulent: true,
		Reasons:      []string{"Critical: Transaction amount $15,000.00 exceeds $10,000.00 threshold"},
		EvaluatedAt:  time.Now().UTC(),
	}

	if err := c.SetResult(ctx, testTenant, res, time.Minute); err != nil {
		t.Fatalf("set result failed: %v", err)
	}

	got, err := c.GetResult(ctx, testTenant, "RES001")
	if err != nil {
		t.Fatalf("get result failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached result")
	}
	if got.RiskLevel != domain.RiskCritical || got.RiskScore != 100 {
		t.Errorf("result roundtrip mismatch: %+v", got)
	}
	if got.Transaction.TransactionID != "TX001" {
		t.Errorf("embedded transaction mismatch: %+v", got.Transaction)
	}
}

func TestGetResultMissing(t *testing.T) {
	c := NewLRUCache(10)

	got, err := c.GetResult(context.Background(), testTenant, "missing")
	if err != nil {
		t.Fatalf("get result failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing result, got %+v", got)
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("failed to create memory cache: %v", err)
	}
	defer c.Close()

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
