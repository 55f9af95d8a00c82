package integrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/service/store"
)

// Integrator folds a fresh basic roster into the detail enrichment
// accumulated by earlier runs. The cardinal rule: a run that would
// erase all detail data never replaces one that still has it.
type Integrator struct {
	rosters *store.RosterStore
	logger  *zap.Logger
}

func New(rosters *store.RosterStore, logger *zap.Logger) *Integrator {
	return &Integrator{
		rosters: rosters,
		logger:  logger,
	}
}

// Integrate merges basic into the best prior detailed snapshot and
// writes the result through every published slot. When no prior detail
// exists anywhere, the basic roster is published as-is.
func (g *Integrator) Integrate(ctx context.Context, basic []*domain.LiverRecord) (*domain.RosterSnapshot, error) {
	now := time.Now()

	prior, priorSlot := g.rosters.FindDetailed(ctx)
	if prior == nil {
		g.logger.Warn("No detailed snapshot found anywhere, publishing basic-only roster")
		snap := basicOnlySnapshot(basic, now)
		if err := g.rosters.WriteThrough(ctx, snap); err != nil {
			g.logger.Error("Basic-only publish failed", zap.Error(err))
			return nil, err
		}
		return snap, nil
	}

	merged := mergeRosters(prior, basic, priorSlot, now)

	if merged.WithDetails() == 0 {
		if good, goodSlot := g.rosters.LastKnownGood(ctx); good != nil {
			g.logger.Warn("Integration lost all detail data, preserving last known good",
				zap.String("prior_slot", priorSlot),
				zap.String("preserved_slot", goodSlot),
				zap.Int("preserved_details", good.WithDetails()),
			)
			good.Source = domain.SourcePreserved
			good.SourceSlot = goodSlot
			if err := g.rosters.WriteThrough(ctx, good); err != nil {
				g.logger.Error("Preservation re-persist failed", zap.Error(err))
				return nil, err
			}
			return good, nil
		}
	}

	if err := g.rosters.WriteThrough(ctx, merged); err != nil {
		g.logger.Error("Integrated publish failed", zap.Error(err))
		return nil, err
	}

	g.logger.Info("Roster integrated",
		zap.String("prior_slot", priorSlot),
		zap.Int("total", merged.TotalItems),
		zap.Int("with_details", merged.Integration.WithDetails),
		zap.Int("basic_only", merged.Integration.BasicOnly),
	)
	return merged, nil
}

// mergeRosters walks the fresh basic roster and carries forward detail
// enrichment for every liver the prior snapshot already knows.
func mergeRosters(prior *domain.RosterSnapshot, basic []*domain.LiverRecord, priorSlot string, now time.Time) *domain.RosterSnapshot {
	priorByID := make(map[string]*domain.LiverRecord, len(prior.Data))
	for _, rec := range prior.Data {
		if rec != nil {
			priorByID[rec.CanonicalID()] = rec
		}
	}

	withDetails := 0
	merged := make([]*domain.LiverRecord, 0, len(basic))
	for _, fresh := range basic {
		priorRec, ok := priorByID[fresh.CanonicalID()]
		if ok && priorRec.HasDetails {
			merged = append(merged, mergeRecords(priorRec, fresh))
			withDetails++
			continue
		}
		merged = append(merged, basicCopy(fresh))
	}

	snap := domain.NewSnapshot(merged, domain.SourceIntegrated, now)
	snap.SourceSlot = priorSlot
	snap.Integration = &domain.IntegrationStats{
		WithDetails:  withDetails,
		BasicOnly:    len(merged) - withDetails,
		PriorSlot:    priorSlot,
		IntegratedAt: now,
	}
	return snap
}

// mergeRecords keeps the prior record's detail enrichment while taking
// listing-level identity fields from the fresh scrape.
func mergeRecords(prior, fresh *domain.LiverRecord) *domain.LiverRecord {
	merged := *prior

	id := fresh.CanonicalID()
	merged.ID = id
	merged.OriginalID = id
	merged.Name = fresh.Name
	merged.Followers = fresh.Followers
	merged.Platform = fresh.Platform
	merged.Page = fresh.Page
	merged.DetailURL = fresh.DetailURL
	merged.LinkType = fresh.LinkType
	merged.ScrapedAt = fresh.ScrapedAt
	merged.ImageURL = servingPath(id)
	if fresh.ActualImageURL != "" {
		merged.ActualImageURL = fresh.ActualImageURL
	}
	return &merged
}

func basicCopy(fresh *domain.LiverRecord) *domain.LiverRecord {
	rec := *fresh
	id := rec.CanonicalID()
	rec.OriginalID = id
	rec.ImageURL = servingPath(id)
	rec.HasDetails = false
	return &rec
}

func basicOnlySnapshot(basic []*domain.LiverRecord, now time.Time) *domain.RosterSnapshot {
	records := make([]*domain.LiverRecord, 0, len(basic))
	for _, rec := range basic {
		records = append(records, basicCopy(rec))
	}
	snap := domain.NewSnapshot(records, domain.SourceBasicOnly, now)
	snap.Integration = &domain.IntegrationStats{
		BasicOnly:    len(records),
		IntegratedAt: now,
	}
	return snap
}

func servingPath(id string) string {
	return fmt.Sprintf("/api/images/%s.jpg", id)
}
