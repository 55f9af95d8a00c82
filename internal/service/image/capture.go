package image

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/service/store"
	"github.com/kapu/liver-scraper-go/internal/util"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

// Placeholder sources are never worth capturing; serving paths must not
// be refetched as sources or the stage would feed on its own output.
var rejectedSourceFragments = []string{
	"noimage.png",
	"/assets/images/shared/",
	"/api/images/",
}

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Service captures profile images into blob storage so they can be
// served from a stable path regardless of upstream availability.
type Service struct {
	http    *resty.Client
	blobs   store.Blob
	breaker *util.CircuitBreaker
	baseURL string
	logger  *zap.Logger
}

type CaptureResult struct {
	LiverID     string
	Cached      bool
	Size        int
	ContentType string
	SourceURL   string
}

func New(cfg Config, blobs store.Blob, breaker *util.CircuitBreaker, logger *zap.Logger) *Service {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8").
		SetHeader("Referer", cfg.BaseURL+"/")

	return &Service{
		http:    client,
		blobs:   blobs,
		breaker: breaker,
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

// BlobKey is the storage key for one liver's captured image.
func BlobKey(liverID string) string {
	return constants.StorageKeys.ImagePrefix + liverID + ".jpg"
}

// Capture stores the liver's profile image if it is not already
// present. Already-captured images short-circuit without a fetch.
func (s *Service) Capture(ctx context.Context, rec *domain.LiverRecord) (*CaptureResult, error) {
	id := rec.CanonicalID()
	key := BlobKey(id)

	exists, err := s.blobs.BlobExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return &CaptureResult{LiverID: id, Cached: true}, nil
	}

	source := SourceURL(rec, s.baseURL)
	if source == "" {
		return nil, errors.NewExtractionError("no usable image source", id, nil)
	}

	if !s.breaker.CanExecute() {
		return nil, errors.NewFetchError("circuit open, capture rejected", source, 0, nil)
	}

	resp, err := s.http.R().SetContext(ctx).Get(source)
	if err != nil {
		s.breaker.RecordFailure(0)
		return nil, errors.NewFetchError("image fetch failed", source, 0, err)
	}
	if resp.StatusCode() != 200 {
		s.breaker.RecordFailure(0)
		return nil, errors.NewFetchError("image fetch status", source, resp.StatusCode(), nil)
	}
	s.breaker.RecordSuccess()

	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")
	if !validImage(body, contentType) {
		return nil, errors.NewExtractionError("response is not a usable image", source, nil)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	if err := s.blobs.PutBlob(ctx, key, body, contentType); err != nil {
		return nil, err
	}

	s.logger.Debug("Image captured",
		zap.String("liver_id", id),
		zap.Int("size", len(body)),
		zap.String("content_type", contentType),
	)

	return &CaptureResult{
		LiverID:     id,
		Size:        len(body),
		ContentType: contentType,
		SourceURL:   source,
	}, nil
}

// SourceURL picks the best upstream source for a record, skipping
// placeholder and self-referential URLs.
func SourceURL(rec *domain.LiverRecord, baseURL string) string {
	candidates := []string{rec.ActualImageURL, rec.ImageURL}
	for _, img := range rec.ProfileImages {
		candidates = append(candidates, img.OriginalURL)
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || rejectedSource(candidate) {
			continue
		}
		if !strings.HasPrefix(candidate, "http") {
			candidate = strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(candidate, "/")
		}
		return candidate
	}
	return ""
}

func rejectedSource(url string) bool {
	return util.ContainsAny(url, rejectedSourceFragments...)
}

// validImage accepts a body either declared as an image or large enough
// to plausibly be one without an HTML error page's markers.
func validImage(body []byte, contentType string) bool {
	if len(body) < constants.ScrapeConfig.MinValidImageSize {
		return false
	}
	if strings.HasPrefix(contentType, "image/") {
		return true
	}
	head := strings.ToLower(string(body[:util.Min(len(body), 256)]))
	return !strings.Contains(head, "<html") && !strings.Contains(head, "<!doctype")
}
