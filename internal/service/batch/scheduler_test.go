package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}}
}

func (f *fakeKV) Get(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeKV) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func testRoster(n int) []*domain.LiverRecord {
	roster := make([]*domain.LiverRecord, n)
	for i := range roster {
		roster[i] = &domain.LiverRecord{
			ID:   fmt.Sprintf("%d", 100+i),
			Name: fmt.Sprintf("Liver %d", 100+i),
		}
	}
	return roster
}

func testScheduler(kv *fakeKV) *Scheduler {
	return New(kv, Config{
		Stage:       "details",
		ProgressKey: "test_progress",
		SliceSize:   15,
		RequestCap:  40,
		Budget:      time.Minute,
		ItemDelay:   0,
	}, zap.NewNop())
}

func TestAdvanceWalksRosterInSlices(t *testing.T) {
	kv := newFakeKV()
	sched := testScheduler(kv)
	roster := testRoster(76)
	ctx := context.Background()

	handled := 0
	handle := func(_ context.Context, _ *domain.LiverRecord) error {
		handled++
		return nil
	}

	// 76 items at slice size 15: five full slices plus one of a single item.
	wantSlices := []int{15, 15, 15, 15, 15, 1}
	for i, want := range wantSlices {
		result, err := sched.Advance(ctx, roster, handle)
		if err != nil {
			t.Fatalf("Advance %d: %v", i, err)
		}
		if len(result.Attempted) != want {
			t.Fatalf("slice %d attempted %d items, want %d", i, len(result.Attempted), want)
		}
		if wantComplete := i == len(wantSlices)-1; result.Complete != wantComplete {
			t.Fatalf("slice %d complete = %v, want %v", i, result.Complete, wantComplete)
		}
	}
	if handled != 76 {
		t.Errorf("handled %d items, want 76", handled)
	}

	// Completion rotates the checkpoint out, so a further call begins a
	// fresh pass at index zero.
	if _, ok := kv.data["test_progress"]; ok {
		t.Error("completed checkpoint was not rotated out")
	}
	result, err := sched.Advance(ctx, roster, handle)
	if err != nil {
		t.Fatalf("Advance after completion: %v", err)
	}
	if result.Complete || len(result.Attempted) != 15 {
		t.Errorf("fresh pass after completion = %+v", result)
	}
	if got := result.Attempted[0].ID; got != "100" {
		t.Errorf("fresh pass began at %s, want 100", got)
	}
}

func TestAdvanceRetriesFailuresOnNextCycle(t *testing.T) {
	kv := newFakeKV()
	sched := testScheduler(kv)
	roster := testRoster(3)
	ctx := context.Background()

	healthy := false
	attempts := map[string]int{}
	handle := func(_ context.Context, rec *domain.LiverRecord) error {
		attempts[rec.ID]++
		if rec.ID == "101" && !healthy {
			return errors.NewFetchError("upstream down", "", 503, nil)
		}
		return nil
	}

	first, err := sched.Advance(ctx, roster, handle)
	if err != nil {
		t.Fatalf("first Advance: %v", err)
	}
	if !first.Complete || first.Failed != 1 {
		t.Fatalf("first pass = %+v", first)
	}
	if _, ok := kv.data["test_progress"]; ok {
		t.Fatal("checkpoint survived completion")
	}

	// The item recovers; the next scheduled cycle walks the unchanged
	// roster again and picks it up.
	healthy = true
	second, err := sched.Advance(ctx, roster, handle)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if second.Succeeded != 3 || second.Failed != 0 {
		t.Errorf("second pass succeeded=%d failed=%d, want 3/0", second.Succeeded, second.Failed)
	}
	if attempts["101"] != 2 {
		t.Errorf("failed item attempted %d times across cycles, want 2", attempts["101"])
	}
}

func TestAdvanceCursorPassesFailures(t *testing.T) {
	kv := newFakeKV()
	sched := testScheduler(kv)
	roster := testRoster(5)
	ctx := context.Background()

	handle := func(_ context.Context, rec *domain.LiverRecord) error {
		if rec.ID == "102" {
			return errors.NewFetchError("boom", "", 500, nil)
		}
		return nil
	}

	result, err := sched.Advance(ctx, roster, handle)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if result.Succeeded != 4 || result.Failed != 1 {
		t.Errorf("succeeded=%d failed=%d, want 4/1", result.Succeeded, result.Failed)
	}
	if !result.Complete {
		t.Error("stage should complete despite the failed item")
	}
	if result.Progress.LastIndex != 5 {
		t.Errorf("cursor = %d, want 5", result.Progress.LastIndex)
	}
	if len(result.Progress.Errors) != 1 {
		t.Errorf("recorded errors = %d, want 1", len(result.Progress.Errors))
	}
}

func TestAdvanceRestartsOnRosterChange(t *testing.T) {
	kv := newFakeKV()
	sched := testScheduler(kv)
	ctx := context.Background()

	noop := func(_ context.Context, _ *domain.LiverRecord) error { return nil }

	if _, err := sched.Advance(ctx, testRoster(30), noop); err != nil {
		t.Fatalf("first Advance: %v", err)
	}

	// Roster grew, so the checkpoint no longer matches and the walk
	// starts over from index zero.
	result, err := sched.Advance(ctx, testRoster(31), noop)
	if err != nil {
		t.Fatalf("Advance after roster change: %v", err)
	}
	if got := result.Attempted[0].ID; got != "100" {
		t.Errorf("restart began at %s, want 100", got)
	}
	if result.Progress.TotalItems != 31 {
		t.Errorf("TotalItems = %d, want 31", result.Progress.TotalItems)
	}
}

func TestAdvanceRequestCap(t *testing.T) {
	kv := newFakeKV()
	sched := New(kv, Config{
		Stage:       "details",
		ProgressKey: "test_progress",
		SliceSize:   15,
		RequestCap:  4,
		Budget:      time.Minute,
	}, zap.NewNop())

	noop := func(_ context.Context, _ *domain.LiverRecord) error { return nil }

	result, err := sched.Advance(context.Background(), testRoster(15), noop)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(result.Attempted) != 4 {
		t.Errorf("attempted %d, want request cap of 4", len(result.Attempted))
	}
	if result.Complete {
		t.Error("capped slice must not report completion")
	}
}

func TestAdvanceLoginWallRetry(t *testing.T) {
	kv := newFakeKV()
	sched := testScheduler(kv)

	refreshed := 0
	sched.OnLoginWall = func(_ context.Context) error {
		refreshed++
		return nil
	}

	calls := map[string]int{}
	handle := func(_ context.Context, rec *domain.LiverRecord) error {
		calls[rec.ID]++
		if rec.ID == "101" && calls[rec.ID] == 1 {
			return errors.NewLoginWallError("https://example.com/login")
		}
		return nil
	}

	result, err := sched.Advance(context.Background(), testRoster(3), handle)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if refreshed != 1 {
		t.Errorf("session refreshed %d times, want 1", refreshed)
	}
	if calls["101"] != 2 {
		t.Errorf("walled item handled %d times, want retry = 2", calls["101"])
	}
	if result.Succeeded != 3 || result.Failed != 0 {
		t.Errorf("succeeded=%d failed=%d, want 3/0 after retry", result.Succeeded, result.Failed)
	}
}

func TestResetDropsCheckpoint(t *testing.T) {
	kv := newFakeKV()
	sched := testScheduler(kv)
	ctx := context.Background()

	noop := func(_ context.Context, _ *domain.LiverRecord) error { return nil }
	if _, err := sched.Advance(ctx, testRoster(30), noop); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := sched.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	progress, err := sched.LoadProgress(ctx, 30)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if progress.LastIndex != 0 {
		t.Errorf("cursor after reset = %d, want 0", progress.LastIndex)
	}
}
