package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/util"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

// Slot preference orders. Readers walk these lists and take the first
// usable snapshot, so more trusted slots come first.
var (
	detailedSearchOrder = []string{
		constants.StorageKeys.IntegratedPrimary,
		constants.StorageKeys.IntegratedSecondary,
		constants.StorageKeys.IntegratedTertiary,
		constants.StorageKeys.IntegratedData,
		constants.StorageKeys.IntegratedBackup,
		constants.StorageKeys.DetailedData,
		constants.StorageKeys.LatestData,
	}

	lastKnownGoodOrder = []string{
		constants.StorageKeys.IntegratedBackup,
		constants.StorageKeys.IntegratedData,
		constants.StorageKeys.LatestData,
	}

	apiReadOrder = []string{
		constants.StorageKeys.IntegratedData,
		constants.StorageKeys.IntegratedBackup,
		constants.StorageKeys.DetailedData,
		constants.StorageKeys.LatestData,
		constants.StorageKeys.BasicData,
	}

	imageLoadOrder = []string{
		constants.StorageKeys.IntegratedData,
		constants.StorageKeys.IntegratedPrimary,
		constants.StorageKeys.IntegratedSecondary,
		constants.StorageKeys.IntegratedTertiary,
		constants.StorageKeys.LatestData,
		constants.StorageKeys.DetailedData,
		constants.StorageKeys.BasicData,
	}

	writeThroughOrder = []string{
		constants.StorageKeys.LatestData,
		constants.StorageKeys.IntegratedData,
		constants.StorageKeys.IntegratedBackup,
		constants.StorageKeys.IntegratedPrimary,
		constants.StorageKeys.IntegratedSecondary,
		constants.StorageKeys.IntegratedTertiary,
	}
)

// RosterStore layers the slot semantics over the key-value store: a
// redundant set of snapshot keys written together and searched in
// preference order, so detail enrichment survives partial failures.
type RosterStore struct {
	kv         KeyValue
	logger     *zap.Logger
	retries    int
	retryDelay time.Duration
}

func NewRosterStore(kv KeyValue, logger *zap.Logger) *RosterStore {
	return NewRosterStoreWithRetry(kv, logger,
		constants.IntegrationConfig.SlotRetries,
		constants.IntegrationConfig.SlotRetryDelay,
	)
}

func NewRosterStoreWithRetry(kv KeyValue, logger *zap.Logger, retries int, retryDelay time.Duration) *RosterStore {
	if retries < 1 {
		retries = 1
	}
	return &RosterStore{
		kv:         kv,
		logger:     logger,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// ReadSlot returns the snapshot at slot, or nil when the slot is empty
// or unreadable. Corrupt slots are skipped, not fatal.
func (r *RosterStore) ReadSlot(ctx context.Context, slot string) *domain.RosterSnapshot {
	var snap domain.RosterSnapshot
	found, err := r.kv.Get(ctx, slot, &snap)
	if err != nil {
		r.logger.Warn("Roster slot unreadable", zap.String("slot", slot), zap.Error(err))
		return nil
	}
	if !found || !snap.Valid() {
		return nil
	}
	return &snap
}

// FindDetailed searches the protection slots for a snapshot that still
// carries detail enrichment, retrying the whole sweep a few times in
// case a writer is mid-flight.
func (r *RosterStore) FindDetailed(ctx context.Context) (*domain.RosterSnapshot, string) {
	for attempt := 0; attempt < r.retries; attempt++ {
		for _, slot := range detailedSearchOrder {
			snap := r.ReadSlot(ctx, slot)
			if snap != nil && snap.HasDetailedRecords() {
				r.logger.Info("Detailed snapshot located",
					zap.String("slot", slot),
					zap.Int("with_details", snap.WithDetails()),
					zap.Int("attempt", attempt+1),
				)
				return snap, slot
			}
		}
		if attempt < r.retries-1 {
			if err := util.SleepContext(ctx, r.retryDelay); err != nil {
				return nil, ""
			}
		}
	}
	return nil, ""
}

// LastKnownGood returns the most trusted snapshot that still has
// detailed records, used to refuse a regression to zero details.
func (r *RosterStore) LastKnownGood(ctx context.Context) (*domain.RosterSnapshot, string) {
	for _, slot := range lastKnownGoodOrder {
		snap := r.ReadSlot(ctx, slot)
		if snap != nil && snap.HasDetailedRecords() {
			return snap, slot
		}
	}
	return nil, ""
}

// ReadForAPI returns whatever the API should serve right now.
func (r *RosterStore) ReadForAPI(ctx context.Context) (*domain.RosterSnapshot, string) {
	for _, slot := range apiReadOrder {
		if snap := r.ReadSlot(ctx, slot); snap != nil {
			return snap, slot
		}
	}
	return nil, ""
}

// LoadForImages returns the roster the image stage should walk.
func (r *RosterStore) LoadForImages(ctx context.Context) (*domain.RosterSnapshot, string) {
	for _, slot := range imageLoadOrder {
		if snap := r.ReadSlot(ctx, slot); snap != nil {
			return snap, slot
		}
	}
	return nil, ""
}

// WriteThrough persists an accepted integration result to every slot
// external readers consult. The first failure aborts so a partially
// written set never silently passes for a full one.
func (r *RosterStore) WriteThrough(ctx context.Context, snap *domain.RosterSnapshot) error {
	for _, slot := range writeThroughOrder {
		if err := r.kv.Set(ctx, slot, snap, 0); err != nil {
			return errors.NewStorageError("write-through failed", slot, err)
		}
	}
	r.logger.Info("Roster written through",
		zap.Int("total", snap.TotalItems),
		zap.Int("with_details", snap.WithDetails()),
		zap.Int("slots", len(writeThroughOrder)),
	)
	return nil
}

func (r *RosterStore) ReadBasic(ctx context.Context) *domain.RosterSnapshot {
	return r.ReadSlot(ctx, constants.StorageKeys.BasicData)
}

func (r *RosterStore) WriteBasic(ctx context.Context, snap *domain.RosterSnapshot) error {
	if err := r.kv.Set(ctx, constants.StorageKeys.BasicData, snap, 0); err != nil {
		return errors.NewStorageError("basic write failed", constants.StorageKeys.BasicData, err)
	}
	return nil
}

func (r *RosterStore) ReadDetailed(ctx context.Context) *domain.RosterSnapshot {
	return r.ReadSlot(ctx, constants.StorageKeys.DetailedData)
}

func (r *RosterStore) WriteDetailed(ctx context.Context, snap *domain.RosterSnapshot) error {
	if err := r.kv.Set(ctx, constants.StorageKeys.DetailedData, snap, 0); err != nil {
		return errors.NewStorageError("detailed write failed", constants.StorageKeys.DetailedData, err)
	}
	return nil
}
