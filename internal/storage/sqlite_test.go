package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "gasbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSubscriptionToggle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	on, err := st.Subscription(ctx, 42)
	if err != nil || on {
		t.Fatalf("unknown user = (%v, %v), want disabled", on, err)
	}

	if err := st.SetSubscription(ctx, 42, "alice", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if on, _ = st.Subscription(ctx, 42); !on {
		t.Fatal("not enabled after SetSubscription(true)")
	}

	// Re-enabling is idempotent.
	if err := st.SetSubscription(ctx, 42, "alice", true); err != nil {
		t.Fatalf("re-enable: %v", err)
	}

	if err := st.SetSubscription(ctx, 42, "alice", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if on, _ = st.Subscription(ctx, 42); on {
		t.Fatal("still enabled after SetSubscription(false)")
	}
}

func TestListEnabledSubscribers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, u := range []struct {
		id int64
		on bool
	}{{1, true}, {2, false}, {3, true}} {
		if err := st.SetSubscription(ctx, u.id, "", u.on); err != nil {
			t.Fatalf("SetSubscription(%d): %v", u.id, err)
		}
	}

	ids, err := st.ListEnabledSubscribers(ctx)
	if err != nil {
		t.Fatalf("ListEnabledSubscribers: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want [1 3]", ids)
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[1] || !seen[3] || seen[2] {
		t.Fatalf("ids = %v, want [1 3]", ids)
	}
}

func TestGasStatsWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, s := range []struct {
		age  time.Duration
		gwei float64
	}{
		{time.Hour, 10},
		{2 * time.Hour, 30},
		{3 * time.Hour, 20},
		{48 * time.Hour, 999}, // outside the window
	} {
		if err := st.RecordGasSample(ctx, now.Add(-s.age), s.gwei); err != nil {
			t.Fatalf("RecordGasSample: %v", err)
		}
	}

	got, err := st.GasStats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GasStats: %v", err)
	}
	if got.Samples != 3 || got.Min != 10 || got.Max != 30 {
		t.Fatalf("stats = %+v", got)
	}
	if got.Avg < 19.9 || got.Avg > 20.1 {
		t.Fatalf("avg = %v, want 20", got.Avg)
	}
}

func TestGasStatsEmpty(t *testing.T) {
	st := openTestStore(t)
	got, err := st.GasStats(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GasStats: %v", err)
	}
	if got.Samples != 0 {
		t.Fatalf("stats = %+v, want empty", got)
	}
}

func TestAppendProfileRequest(t *testing.T) {
	st := openTestStore(t)
	err := st.AppendProfileRequest(context.Background(), ProfileRequest{
		ActorID: 7,
		Kind:    "open",
		Payload: `{"id":"42"}`,
		OK:      true,
	})
	if err != nil {
		t.Fatalf("AppendProfileRequest: %v", err)
	}
}
