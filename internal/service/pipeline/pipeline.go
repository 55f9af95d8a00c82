package pipeline

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/config"
	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/service/batch"
	"github.com/kapu/liver-scraper-go/internal/service/image"
	"github.com/kapu/liver-scraper-go/internal/service/integrator"
	"github.com/kapu/liver-scraper-go/internal/service/scraper"
	"github.com/kapu/liver-scraper-go/internal/service/session"
	"github.com/kapu/liver-scraper-go/internal/service/store"
	"github.com/kapu/liver-scraper-go/internal/trigger"
	"github.com/kapu/liver-scraper-go/internal/util"
)

// ErrStageBusy is returned when a stage is asked to run while a
// previous run is still in flight.
var ErrStageBusy = stderrors.New("stage already running")

// Pipeline owns the three stages: the basic listing walk, the
// incremental detail enrichment, and the incremental image capture.
// Each stage runs on its own ticker and can also be triggered over
// HTTP; a per-stage mutex keeps runs from overlapping.
type Pipeline struct {
	cfg     config.PipelineConfig
	logger  *zap.Logger
	session *session.Service
	list    *scraper.ListScraper
	details *scraper.DetailScraper
	images  *image.Service
	integ   *integrator.Integrator
	rosters *store.RosterStore
	kv      store.KeyValue
	trigger *trigger.Client

	detailSched *batch.Scheduler
	imageSched  *batch.Scheduler

	basicMu  sync.Mutex
	detailMu sync.Mutex
	imageMu  sync.Mutex
}

type StageResult struct {
	Stage     string `json:"stage"`
	Total     int    `json:"total"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Pages     int    `json:"pages,omitempty"`
	Complete  bool   `json:"complete"`
}

func New(
	cfg config.PipelineConfig,
	sess *session.Service,
	list *scraper.ListScraper,
	details *scraper.DetailScraper,
	images *image.Service,
	integ *integrator.Integrator,
	rosters *store.RosterStore,
	kv store.KeyValue,
	trig *trigger.Client,
	logger *zap.Logger,
) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		session: sess,
		list:    list,
		details: details,
		images:  images,
		integ:   integ,
		rosters: rosters,
		kv:      kv,
		trigger: trig,
	}

	p.detailSched = batch.New(kv, batch.Config{
		Stage:       constants.StageDetails,
		ProgressKey: constants.StorageKeys.DetailProgress,
		SliceSize:   cfg.DetailBatchSize,
		RequestCap:  cfg.RequestCap,
		Budget:      cfg.InvocationBudget,
		ItemDelay:   cfg.ItemDelay,
	}, logger)
	p.detailSched.OnLoginWall = func(ctx context.Context) error {
		_, err := sess.Refresh(ctx)
		return err
	}

	p.imageSched = batch.New(kv, batch.Config{
		Stage:       constants.StageImages,
		ProgressKey: constants.StorageKeys.ImageProgress,
		SliceSize:   cfg.ImageBatchSize,
		RequestCap:  cfg.RequestCap,
		Budget:      cfg.InvocationBudget,
		ItemDelay:   cfg.ItemDelay,
	}, logger)

	return p
}

// RunBasicStage walks the whole listing, publishes the basic roster and
// integrates it with existing detail data.
func (p *Pipeline) RunBasicStage(ctx context.Context) (*StageResult, error) {
	if !p.basicMu.TryLock() {
		return nil, ErrStageBusy
	}
	defer p.basicMu.Unlock()

	p.setStatus(ctx, constants.StageBasic, constants.ProgressInProgress, nil)

	token, err := p.session.Session(ctx)
	if err != nil {
		p.failStage(ctx, constants.StageBasic, constants.StorageKeys.MainWorkerError, err)
		return nil, err
	}

	records, pages, err := p.list.ScrapeAll(ctx, token)
	if err != nil {
		p.failStage(ctx, constants.StageBasic, constants.StorageKeys.MainWorkerError, err)
		return nil, err
	}
	if len(records) == 0 {
		err := stderrors.New("listing walk produced no records")
		p.failStage(ctx, constants.StageBasic, constants.StorageKeys.MainWorkerError, err)
		return nil, err
	}

	if changed, hash := p.rosterChanged(ctx, records); !changed {
		p.logger.Info("Roster unchanged since last walk", zap.String("hash", hash))
	} else if err := p.kv.Set(ctx, constants.StorageKeys.BasicHash, hash, 0); err != nil {
		p.logger.Warn("Roster hash write failed", zap.Error(err))
	}

	snap := domain.NewSnapshot(records, domain.SourceBasic, time.Now())
	if err := p.rosters.WriteBasic(ctx, snap); err != nil {
		p.failStage(ctx, constants.StageBasic, constants.StorageKeys.MainWorkerError, err)
		return nil, err
	}
	if readBack := p.rosters.ReadBasic(ctx); readBack == nil || readBack.TotalItems != snap.TotalItems {
		p.logger.Warn("Basic snapshot read-back mismatch",
			zap.Int("written", snap.TotalItems),
		)
	}

	if _, err := p.integ.Integrate(ctx, records); err != nil {
		p.failStage(ctx, constants.StageBasic, constants.StorageKeys.MainWorkerError, err)
		return nil, err
	}

	if err := p.trigger.StartBatch(ctx, p.cfg.DetailTriggerURL, constants.StageBasic); err != nil {
		p.logger.Warn("Detail stage trigger failed", zap.Error(err))
	}

	result := &StageResult{
		Stage:     constants.StageBasic,
		Total:     len(records),
		Attempted: len(records),
		Succeeded: len(records),
		Pages:     pages,
		Complete:  true,
	}
	p.setStatus(ctx, constants.StageBasic, constants.ProgressCompleted, result)
	p.clearError(ctx, constants.StorageKeys.MainWorkerError)
	return result, nil
}

// RunDetailStage advances the detail enrichment by one slice.
func (p *Pipeline) RunDetailStage(ctx context.Context) (*StageResult, error) {
	if !p.detailMu.TryLock() {
		return nil, ErrStageBusy
	}
	defer p.detailMu.Unlock()

	snap, slot := p.rosters.ReadForAPI(ctx)
	if snap == nil {
		p.logger.Info("No roster available yet, detail stage idle")
		return &StageResult{Stage: constants.StageDetails}, nil
	}

	p.setStatus(ctx, constants.StageDetails, constants.ProgressInProgress, nil)

	advance, err := p.detailSched.Advance(ctx, snap.Data, p.detailItem)
	if err != nil {
		p.failStage(ctx, constants.StageDetails, constants.StorageKeys.MainWorkerError, err)
		return nil, err
	}

	if advance.Succeeded > 0 {
		if err := p.accumulateDetails(ctx, advance.Attempted); err != nil {
			p.logger.Error("Detail accumulation failed", zap.Error(err))
		}
	}

	if advance.Complete {
		p.publishDetailed(ctx, snap)
		if err := p.trigger.StartBatch(ctx, p.cfg.ImageTriggerURL, constants.StageDetails); err != nil {
			p.logger.Warn("Image stage trigger failed", zap.Error(err))
		}
	}

	result := &StageResult{
		Stage:     constants.StageDetails,
		Total:     advance.Progress.TotalItems,
		Attempted: len(advance.Attempted),
		Succeeded: advance.Succeeded,
		Failed:    advance.Failed,
		Complete:  advance.Complete,
	}
	status := constants.ProgressInProgress
	if advance.Complete {
		status = constants.ProgressCompleted
	}
	p.setStatus(ctx, constants.StageDetails, status, result)
	p.clearError(ctx, constants.StorageKeys.MainWorkerError)
	p.logger.Debug("Detail stage advanced", zap.String("roster_slot", slot))
	return result, nil
}

// RunImageStage advances the image capture by one slice.
func (p *Pipeline) RunImageStage(ctx context.Context) (*StageResult, error) {
	if !p.imageMu.TryLock() {
		return nil, ErrStageBusy
	}
	defer p.imageMu.Unlock()

	snap, slot := p.rosters.LoadForImages(ctx)
	if snap == nil {
		p.logger.Info("No roster available yet, image stage idle")
		return &StageResult{Stage: constants.StageImages}, nil
	}

	p.setStatus(ctx, constants.StageImages, constants.ProgressInProgress, nil)

	advance, err := p.imageSched.Advance(ctx, snap.Data, p.imageItem)
	if err != nil {
		p.failStage(ctx, constants.StageImages, constants.StorageKeys.ImageWorkerError, err)
		return nil, err
	}

	result := &StageResult{
		Stage:     constants.StageImages,
		Total:     advance.Progress.TotalItems,
		Attempted: len(advance.Attempted),
		Succeeded: advance.Succeeded,
		Failed:    advance.Failed,
		Complete:  advance.Complete,
	}
	status := constants.ProgressInProgress
	if advance.Complete {
		status = constants.ProgressCompleted
	}
	p.setStatus(ctx, constants.StageImages, status, result)
	p.clearError(ctx, constants.StorageKeys.ImageWorkerError)
	p.logger.Debug("Image stage advanced", zap.String("roster_slot", slot))
	return result, nil
}

func (p *Pipeline) detailItem(ctx context.Context, rec *domain.LiverRecord) error {
	// Modal-only livers have no detail page to scrape.
	if rec.DetailURL == "" || rec.LinkType == domain.LinkTypeModal {
		return nil
	}

	token, err := p.session.Session(ctx)
	if err != nil {
		return err
	}

	info, err := p.details.Scrape(ctx, rec.DetailURL, token)
	if err != nil {
		return err
	}

	rec.ApplyDetails(info, time.Now())
	return nil
}

func (p *Pipeline) imageItem(ctx context.Context, rec *domain.LiverRecord) error {
	result, err := p.images.Capture(ctx, rec)
	if err != nil {
		return err
	}
	if result.SourceURL != "" {
		rec.ActualImageURL = result.SourceURL
	}
	return nil
}

// accumulateDetails upserts freshly detailed records into the detailed
// snapshot slot, preserving details earlier slices already gathered.
func (p *Pipeline) accumulateDetails(ctx context.Context, attempted []*domain.LiverRecord) error {
	existing := p.rosters.ReadDetailed(ctx)

	byID := map[string]*domain.LiverRecord{}
	var order []string
	if existing != nil {
		for _, rec := range existing.Data {
			if rec == nil {
				continue
			}
			id := rec.CanonicalID()
			byID[id] = rec
			order = append(order, id)
		}
	}

	for _, rec := range attempted {
		if rec == nil || !rec.HasDetails {
			continue
		}
		id := rec.CanonicalID()
		if _, ok := byID[id]; !ok {
			order = append(order, id)
		}
		byID[id] = rec
	}

	records := make([]*domain.LiverRecord, 0, len(order))
	for _, id := range order {
		records = append(records, byID[id])
	}

	return p.rosters.WriteDetailed(ctx, domain.NewSnapshot(records, domain.SourceDetailed, time.Now()))
}

// publishDetailed folds the completed enrichment back into the
// published slots via a full integration pass.
func (p *Pipeline) publishDetailed(ctx context.Context, fallback *domain.RosterSnapshot) {
	basic := p.rosters.ReadBasic(ctx)
	records := fallback.Data
	if basic != nil {
		records = basic.Data
	}
	if _, err := p.integ.Integrate(ctx, records); err != nil {
		p.logger.Error("Post-enrichment integration failed", zap.Error(err))
	}
}

// rosterChanged fingerprints the identity fields of the roster,
// ignoring timestamps so an unchanged site hashes identically.
func (p *Pipeline) rosterChanged(ctx context.Context, records []*domain.LiverRecord) (bool, string) {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(rec.ID)
		b.WriteByte('|')
		b.WriteString(rec.Name)
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(rec.Followers))
		b.WriteByte('|')
		b.WriteString(rec.Platform)
		b.WriteByte('\n')
	}
	hash := util.ContentHash([]byte(b.String()))

	var previous string
	found, err := p.kv.Get(ctx, constants.StorageKeys.BasicHash, &previous)
	if err != nil {
		return true, hash
	}
	return !found || previous != hash, hash
}

// ResetProgress wipes the checkpoint of one stage, or both when stage
// is empty.
func (p *Pipeline) ResetProgress(ctx context.Context, stage string) error {
	switch stage {
	case constants.StageDetails:
		return p.detailSched.Reset(ctx)
	case constants.StageImages:
		return p.imageSched.Reset(ctx)
	case "":
		if err := p.detailSched.Reset(ctx); err != nil {
			return err
		}
		return p.imageSched.Reset(ctx)
	default:
		return stderrors.New("unknown stage: " + stage)
	}
}

// Progress returns the raw checkpoint of one stage.
func (p *Pipeline) Progress(ctx context.Context, stage string) (*domain.BatchProgress, error) {
	key := ""
	switch stage {
	case constants.StageDetails:
		key = constants.StorageKeys.DetailProgress
	case constants.StageImages:
		key = constants.StorageKeys.ImageProgress
	default:
		return nil, stderrors.New("unknown stage: " + stage)
	}

	var progress domain.BatchProgress
	found, err := p.kv.Get(ctx, key, &progress)
	if err != nil {
		return nil, err
	}
	if !found {
		return &domain.BatchProgress{Status: constants.ProgressIdle}, nil
	}
	return &progress, nil
}

// Status collects the per-stage worker statuses for the status API.
func (p *Pipeline) Status(ctx context.Context) map[string]*domain.WorkerStatus {
	statuses := map[string]*domain.WorkerStatus{}
	for _, stage := range []string{constants.StageBasic, constants.StageDetails, constants.StageImages} {
		var status domain.WorkerStatus
		found, err := p.kv.Get(ctx, constants.StorageKeys.WorkerStatusPrefix+stage, &status)
		if err != nil || !found {
			statuses[stage] = &domain.WorkerStatus{Stage: stage, Status: constants.ProgressIdle}
			continue
		}
		statuses[stage] = &status
	}
	return statuses
}

func (p *Pipeline) setStatus(ctx context.Context, stage, status string, result *StageResult) {
	now := time.Now()
	record := &domain.WorkerStatus{
		Stage:      stage,
		Status:     status,
		Timestamp:  now,
		LastUpdate: util.FormatJST(now, "2006-01-02 15:04:05"),
	}
	if result != nil {
		record.Total = result.Total
		record.Processed = result.Succeeded
		record.Failed = result.Failed
	}
	if err := p.kv.Set(ctx, constants.StorageKeys.WorkerStatusPrefix+stage, record, 0); err != nil {
		p.logger.Warn("Worker status write failed", zap.String("stage", stage), zap.Error(err))
	}
}

func (p *Pipeline) failStage(ctx context.Context, stage, errorKey string, cause error) {
	now := time.Now()
	record := &domain.WorkerStatus{
		Stage:      stage,
		Status:     "error",
		Timestamp:  now,
		LastUpdate: util.FormatJST(now, "2006-01-02 15:04:05"),
		Message:    cause.Error(),
	}
	if err := p.kv.Set(ctx, constants.StorageKeys.WorkerStatusPrefix+stage, record, 0); err != nil {
		p.logger.Warn("Worker status write failed", zap.String("stage", stage), zap.Error(err))
	}
	if err := p.kv.Set(ctx, errorKey, record, 0); err != nil {
		p.logger.Warn("Worker error write failed", zap.String("key", errorKey), zap.Error(err))
	}
	p.logger.Error("Stage failed", zap.String("stage", stage), zap.Error(cause))
}

func (p *Pipeline) clearError(ctx context.Context, errorKey string) {
	if err := p.kv.Del(ctx, errorKey); err != nil {
		p.logger.Debug("Worker error clear failed", zap.String("key", errorKey), zap.Error(err))
	}
}
