package scraper

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/util"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

type FetcherConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher performs authenticated page fetches behind the shared circuit
// breaker. Redirects are followed; the final URL stays observable so
// callers can recognize a bounce to the login page.
type Fetcher struct {
	http    *resty.Client
	breaker *util.CircuitBreaker
	logger  *zap.Logger
}

func NewFetcher(cfg FetcherConfig, breaker *util.CircuitBreaker, logger *zap.Logger) *Fetcher {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetCookieJar(nil)

	return &Fetcher{
		http:    client,
		breaker: breaker,
		logger:  logger,
	}
}

// Get fetches path with the session cookies attached.
func (f *Fetcher) Get(ctx context.Context, path string, token *domain.SessionToken) (*resty.Response, error) {
	if !f.breaker.CanExecute() {
		return nil, errors.NewFetchError("circuit open, fetch rejected", path, 0, nil)
	}

	req := f.http.R().SetContext(ctx)
	if token != nil && token.Cookies != "" {
		req.SetHeader("Cookie", token.Cookies)
	}

	resp, err := req.Get(path)
	if err != nil {
		f.breaker.RecordFailure(0)
		return nil, errors.NewFetchError("fetch failed", path, 0, err)
	}

	status := resp.StatusCode()
	if status == http.StatusTooManyRequests {
		f.breaker.RecordFailure(constants.CircuitBreakerConfig.RateLimitTimeout)
		return nil, errors.NewFetchError("rate limited", path, status, nil)
	}
	if status >= 400 {
		f.breaker.RecordFailure(0)
		return nil, errors.NewFetchError("unexpected status", path, status, nil)
	}

	f.breaker.RecordSuccess()
	return resp, nil
}

// FinalURL returns the URL the fetch actually landed on after redirects.
func FinalURL(resp *resty.Response) string {
	if resp == nil || resp.RawResponse == nil || resp.RawResponse.Request == nil {
		return ""
	}
	if resp.RawResponse.Request.URL == nil {
		return ""
	}
	return resp.RawResponse.Request.URL.String()
}
