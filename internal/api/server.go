package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/service/pipeline"
	"github.com/kapu/liver-scraper-go/internal/service/review"
	"github.com/kapu/liver-scraper-go/internal/service/store"
	"github.com/kapu/liver-scraper-go/internal/util"
)

// Server exposes the scraped roster, captured images, pipeline controls
// and the review API.
type Server struct {
	router    chi.Router
	http      *http.Server
	pipeline  *pipeline.Pipeline
	rosters   *store.RosterStore
	blobs     store.Blob
	reviews   *review.Service
	breaker   *util.CircuitBreaker
	authToken string
	logger    *zap.Logger
}

func NewServer(
	port int,
	authToken string,
	pipe *pipeline.Pipeline,
	rosters *store.RosterStore,
	blobs store.Blob,
	reviews *review.Service,
	breaker *util.CircuitBreaker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		pipeline:  pipe,
		rosters:   rosters,
		blobs:     blobs,
		reviews:   reviews,
		breaker:   breaker,
		authToken: authToken,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/livers", s.handleLivers)
		r.Get("/livers/{id}", s.handleLiver)
		r.Get("/images/{file}", s.handleImage)
		r.Get("/status", s.handleStatus)

		r.Route("/livers/{id}/reviews", func(r chi.Router) {
			r.Get("/", s.handleListReviews)
			r.Post("/", s.handleCreateReview)
			r.Get("/summary", s.handleReviewSummary)
		})
		r.With(s.requireAuth).Delete("/reviews/{reviewID}", s.handleDeleteReview)
	})

	r.Get("/progress/{stage}", s.handleProgress)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/start-batch", s.handleStartBatch)
		r.Post("/manual-scrape", s.handleManualScrape)
		r.Post("/reset-progress", s.handleResetProgress)
	})

	s.router = r
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
