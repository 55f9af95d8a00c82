package review

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/service/store"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

// Service stores visitor reviews in Postgres. Submitter addresses are
// kept only as salted hashes, used for the per-IP submission throttle.
type Service struct {
	db     *sql.DB
	kv     store.KeyValue
	salt   string
	logger *zap.Logger
}

func New(db *sql.DB, kv store.KeyValue, salt string, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		kv:     kv,
		salt:   salt,
		logger: logger,
	}
}

// Create validates and stores a review. One review per IP per throttle
// window.
func (s *Service) Create(ctx context.Context, liverID string, rating int, comment, ip string) (*domain.Review, error) {
	liverID = strings.TrimSpace(liverID)
	if liverID == "" {
		return nil, errors.NewValidationError("liver id is required", "liverId", liverID)
	}
	if rating < constants.ReviewConfig.MinRating || rating > constants.ReviewConfig.MaxRating {
		return nil, errors.NewValidationError("rating out of range", "rating", rating)
	}
	comment = strings.TrimSpace(comment)
	if len([]rune(comment)) > constants.ReviewConfig.MaxCommentLength {
		return nil, errors.NewValidationError("comment too long", "comment", len(comment))
	}

	ipHash := s.hashIP(ip)
	throttleKey := constants.StorageKeys.RateLimitPrefix + ipHash

	throttled, err := s.kv.Exists(ctx, throttleKey)
	if err != nil {
		s.logger.Warn("Throttle check failed, allowing submission", zap.Error(err))
	} else if throttled {
		return nil, errors.NewScrapeError("too many submissions", errors.CodeValidation, 429, map[string]any{
			"window": constants.ReviewConfig.RateLimitWindow.String(),
		})
	}

	review := &domain.Review{
		LiverID:   liverID,
		Rating:    rating,
		Comment:   comment,
		IPHash:    ipHash,
		CreatedAt: time.Now(),
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO reviews (liver_id, rating, comment, ip_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		review.LiverID, review.Rating, review.Comment, review.IPHash, review.CreatedAt,
	).Scan(&review.ID)
	if err != nil {
		return nil, errors.NewStorageError("review insert failed", "reviews", err)
	}

	if err := s.kv.Set(ctx, throttleKey, time.Now(), constants.ReviewConfig.RateLimitWindow); err != nil {
		s.logger.Warn("Throttle record failed", zap.Error(err))
	}

	s.logger.Info("Review created",
		zap.String("liver_id", liverID),
		zap.Int("rating", rating),
	)
	return review, nil
}

// List returns a liver's reviews, newest first.
func (s *Service) List(ctx context.Context, liverID string) ([]*domain.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, liver_id, rating, comment, created_at
		 FROM reviews WHERE liver_id = $1 ORDER BY created_at DESC`,
		liverID,
	)
	if err != nil {
		return nil, errors.NewStorageError("review query failed", "reviews", err)
	}
	defer rows.Close()

	reviews := []*domain.Review{}
	for rows.Next() {
		var review domain.Review
		if err := rows.Scan(&review.ID, &review.LiverID, &review.Rating, &review.Comment, &review.CreatedAt); err != nil {
			return nil, errors.NewStorageError("review scan failed", "reviews", err)
		}
		reviews = append(reviews, &review)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("review iteration failed", "reviews", err)
	}
	return reviews, nil
}

// Summary aggregates one liver's rating.
func (s *Service) Summary(ctx context.Context, liverID string) (*domain.ReviewSummary, error) {
	summary := &domain.ReviewSummary{LiverID: liverID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE liver_id = $1`,
		liverID,
	).Scan(&summary.Average, &summary.Count)
	if err != nil {
		return nil, errors.NewStorageError("review summary failed", "reviews", err)
	}
	return summary, nil
}

// Delete removes a review by id. Admin-only at the API layer.
func (s *Service) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return errors.NewStorageError("review delete failed", "reviews", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NewValidationError("review not found", "id", id)
	}
	return nil
}

func (s *Service) hashIP(ip string) string {
	sum := sha256.Sum256([]byte(s.salt + ip))
	return hex.EncodeToString(sum[:])
}
