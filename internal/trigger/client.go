package trigger

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/pkg/errors"
)

// Client nudges a downstream stage over HTTP once the current stage has
// produced something for it to consume. Stages also run on their own
// tickers, so a failed nudge only delays work.
type Client struct {
	http   *resty.Client
	token  string
	logger *zap.Logger
}

type startBatchPayload struct {
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}

func New(token string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   client,
		token:  token,
		logger: logger,
	}
}

// StartBatch posts the handoff to targetURL. An empty target means the
// downstream stage is co-located and needs no nudge.
func (c *Client) StartBatch(ctx context.Context, targetURL, sourceStage string) error {
	if targetURL == "" {
		c.logger.Debug("No trigger target configured, skipping handoff",
			zap.String("source", sourceStage),
		)
		return nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		SetBody(startBatchPayload{
			Trigger:   sourceStage,
			Timestamp: time.Now(),
		}).
		Post(targetURL)
	if err != nil {
		return errors.NewFetchError("trigger request failed", targetURL, 0, err)
	}
	if resp.StatusCode() >= 300 {
		return errors.NewFetchError("trigger rejected", targetURL, resp.StatusCode(), nil)
	}

	c.logger.Info("Downstream stage triggered",
		zap.String("source", sourceStage),
		zap.String("target", targetURL),
	)
	return nil
}
