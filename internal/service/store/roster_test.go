package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
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

func snapshotWithDetails(id string) *domain.RosterSnapshot {
	now := time.Now()
	return domain.NewSnapshot([]*domain.LiverRecord{
		{ID: id, Name: "Detailed", HasDetails: true, DetailScrapedAt: &now},
	}, domain.SourceIntegrated, now)
}

func basicSnapshot(id string) *domain.RosterSnapshot {
	return domain.NewSnapshot([]*domain.LiverRecord{
		{ID: id, Name: "Basic"},
	}, domain.SourceBasic, time.Now())
}

func seed(t *testing.T, kv *fakeKV, slot string, snap *domain.RosterSnapshot) {
	t.Helper()
	if err := kv.Set(context.Background(), slot, snap, 0); err != nil {
		t.Fatalf("seed %s: %v", slot, err)
	}
}

func TestWriteThroughFillsAllSlots(t *testing.T) {
	kv := newFakeKV()
	rosters := NewRosterStoreWithRetry(kv, zap.NewNop(), 1, 0)

	if err := rosters.WriteThrough(context.Background(), snapshotWithDetails("1")); err != nil {
		t.Fatalf("WriteThrough: %v", err)
	}

	for _, slot := range writeThroughOrder {
		if rosters.ReadSlot(context.Background(), slot) == nil {
			t.Errorf("slot %s not written", slot)
		}
	}
	// The standalone detail accumulator is not part of write-through.
	if rosters.ReadDetailed(context.Background()) != nil {
		t.Error("detailed accumulator should be untouched")
	}
}

func TestReadSlotSkipsCorruptAndEmpty(t *testing.T) {
	kv := newFakeKV()
	kv.data[constants.StorageKeys.IntegratedData] = []byte("{not json")

	rosters := NewRosterStoreWithRetry(kv, zap.NewNop(), 1, 0)
	if rosters.ReadSlot(context.Background(), constants.StorageKeys.IntegratedData) != nil {
		t.Error("corrupt slot should read as nil")
	}
	if rosters.ReadSlot(context.Background(), constants.StorageKeys.LatestData) != nil {
		t.Error("missing slot should read as nil")
	}

	// A snapshot with no records is not usable either.
	seed(t, kv, constants.StorageKeys.IntegratedBackup, domain.NewSnapshot(nil, domain.SourceBasic, time.Now()))
	if rosters.ReadSlot(context.Background(), constants.StorageKeys.IntegratedBackup) != nil {
		t.Error("empty snapshot should read as nil")
	}

	// A total that drifted from the records marks the slot corrupt.
	mismatched := basicSnapshot("3")
	mismatched.TotalItems = 5
	seed(t, kv, constants.StorageKeys.IntegratedPrimary, mismatched)
	if rosters.ReadSlot(context.Background(), constants.StorageKeys.IntegratedPrimary) != nil {
		t.Error("total/record mismatch should read as nil")
	}
}

func TestFindDetailedSkipsBasicOnlySlots(t *testing.T) {
	kv := newFakeKV()
	// The higher-preference slot holds only basic records; the detailed
	// one sits further down the search order.
	seed(t, kv, constants.StorageKeys.IntegratedPrimary, basicSnapshot("1"))
	seed(t, kv, constants.StorageKeys.IntegratedBackup, snapshotWithDetails("2"))

	rosters := NewRosterStoreWithRetry(kv, zap.NewNop(), 1, 0)
	snap, slot := rosters.FindDetailed(context.Background())
	if snap == nil {
		t.Fatal("detailed snapshot not found")
	}
	if slot != constants.StorageKeys.IntegratedBackup {
		t.Errorf("found in slot %s, want backup", slot)
	}
	if snap.Data[0].ID != "2" {
		t.Errorf("wrong snapshot returned: %+v", snap.Data[0])
	}
}

func TestFindDetailedNothingStored(t *testing.T) {
	rosters := NewRosterStoreWithRetry(newFakeKV(), zap.NewNop(), 2, 0)
	snap, slot := rosters.FindDetailed(context.Background())
	if snap != nil || slot != "" {
		t.Errorf("expected miss, got %v from %q", snap, slot)
	}
}

func TestReadForAPIPreferenceOrder(t *testing.T) {
	kv := newFakeKV()
	rosters := NewRosterStoreWithRetry(kv, zap.NewNop(), 1, 0)

	// Only the lowest-preference slot is populated.
	seed(t, kv, constants.StorageKeys.BasicData, basicSnapshot("10"))
	snap, slot := rosters.ReadForAPI(context.Background())
	if snap == nil || slot != constants.StorageKeys.BasicData {
		t.Fatalf("got slot %q, want basic fallback", slot)
	}

	// Integrated data takes precedence the moment it appears.
	seed(t, kv, constants.StorageKeys.IntegratedData, snapshotWithDetails("20"))
	snap, slot = rosters.ReadForAPI(context.Background())
	if slot != constants.StorageKeys.IntegratedData {
		t.Errorf("got slot %q, want integrated", slot)
	}
	if snap.Data[0].ID != "20" {
		t.Errorf("wrong snapshot served: %+v", snap.Data[0])
	}
}

func TestLastKnownGoodPrefersBackup(t *testing.T) {
	kv := newFakeKV()
	seed(t, kv, constants.StorageKeys.IntegratedBackup, snapshotWithDetails("5"))
	seed(t, kv, constants.StorageKeys.IntegratedData, snapshotWithDetails("6"))

	rosters := NewRosterStoreWithRetry(kv, zap.NewNop(), 1, 0)
	snap, slot := rosters.LastKnownGood(context.Background())
	if snap == nil || slot != constants.StorageKeys.IntegratedBackup {
		t.Errorf("got slot %q, want backup first", slot)
	}
}

func TestBasicAndDetailedRoundTrip(t *testing.T) {
	kv := newFakeKV()
	rosters := NewRosterStoreWithRetry(kv, zap.NewNop(), 1, 0)
	ctx := context.Background()

	if err := rosters.WriteBasic(ctx, basicSnapshot("30")); err != nil {
		t.Fatalf("WriteBasic: %v", err)
	}
	if snap := rosters.ReadBasic(ctx); snap == nil || snap.Data[0].ID != "30" {
		t.Errorf("basic round trip failed: %v", snap)
	}

	if err := rosters.WriteDetailed(ctx, snapshotWithDetails("31")); err != nil {
		t.Fatalf("WriteDetailed: %v", err)
	}
	if snap := rosters.ReadDetailed(ctx); snap == nil || !snap.HasDetailedRecords() {
		t.Errorf("detailed round trip failed: %v", snap)
	}
}
