package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gasbot/internal/gas"
	kit "gasbot/internal/transport"
	logx "gasbot/pkg/logx"
)

type fakeRegistry struct {
	ids []int64
	err error
}

func (f *fakeRegistry) ListEnabledSubscribers(context.Context) ([]int64, error) {
	return f.ids, f.err
}

type fakeSource struct {
	mu    sync.Mutex
	price gas.Price
	err   error
	calls int
}

func (f *fakeSource) Current(context.Context) (gas.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.price, f.err
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []int64
	failFor map[int64]error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func newTestService(reg Registry, src Source, snd Sender) *Service {
	return New(Config{Interval: time.Millisecond, ErrorBackoff: 5 * time.Millisecond, RatePerSec: 10000},
		reg, src, snd, nil, logx.Nop())
}

func TestCycleIsolatesDeliveryFailures(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{ids: []int64{1, 2, 3}}
	src := &fakeSource{price: gas.Price{Safe: 10, Propose: 12, Fast: 15, At: time.Now()}}
	snd := &fakeSender{failFor: map[int64]error{2: fmt.Errorf("blocked by user")}}
	s := newTestService(reg, src, snd)

	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	want := []int64{1, 3}
	if len(snd.sent) != len(want) {
		t.Fatalf("delivered to %v, want %v", snd.sent, want)
	}
	for i := range want {
		if snd.sent[i] != want[i] {
			t.Fatalf("delivered to %v, want %v", snd.sent, want)
		}
	}
}

func TestCycleSourceFailureSendsNothing(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{ids: []int64{1, 2}}
	src := &fakeSource{err: gas.ErrUnavailable}
	snd := &fakeSender{}
	s := newTestService(reg, src, snd)

	err := s.cycle(context.Background())
	if !errors.Is(err, gas.ErrUnavailable) {
		t.Fatalf("cycle err = %v, want ErrUnavailable", err)
	}
	if len(snd.sent) != 0 {
		t.Fatalf("sent %v during a failed cycle", snd.sent)
	}
	if _, ok := s.Last(); ok {
		t.Fatal("Last() set after a failed fetch")
	}
}

func TestCycleRegistryFailure(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{err: errors.New("db locked")}
	src := &fakeSource{}
	snd := &fakeSender{}
	s := newTestService(reg, src, snd)

	if err := s.cycle(context.Background()); err == nil {
		t.Fatal("expected registry error")
	}
	if src.calls != 0 {
		t.Fatalf("price fetched %d times despite registry failure", src.calls)
	}
	if len(snd.sent) != 0 {
		t.Fatalf("sent %v despite registry failure", snd.sent)
	}
}

func TestCycleUpdatesLast(t *testing.T) {
	t.Parallel()
	price := gas.Price{Safe: 8, Propose: 9, Fast: 11, At: time.Now()}
	s := newTestService(&fakeRegistry{}, &fakeSource{price: price}, &fakeSender{})

	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	got, ok := s.Last()
	if !ok || got.Propose != 9 {
		t.Fatalf("Last() = (%+v, %v)", got, ok)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeRegistry{ids: []int64{1}},
		&fakeSource{price: gas.Price{Propose: 1}}, &fakeSender{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunKeepsGoingAfterFailedCycle(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: gas.ErrUnavailable}
	s := newTestService(&fakeRegistry{ids: []int64{1}}, src, &fakeSender{})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	// With a 5ms error backoff and a 40ms deadline the loop must have retried.
	if calls < 2 {
		t.Fatalf("source calls = %d, want >= 2", calls)
	}
}

func TestFormatPrice(t *testing.T) {
	t.Parallel()
	got := FormatPrice(gas.Price{Safe: 10, Propose: 12.5, Fast: 15, At: time.Now()})
	want := "⛽ Current gas: safe 10 / propose 12.5 / fast 15 gwei"
	if got != want {
		t.Fatalf("FormatPrice = %q, want %q", got, want)
	}
}
