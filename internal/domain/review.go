package domain

import "time"

// Review is a visitor rating attached to one liver.
type Review struct {
	ID        int64     `json:"id"`
	LiverID   string    `json:"liverId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	IPHash    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReviewSummary aggregates the reviews of one liver.
type ReviewSummary struct {
	LiverID string  `json:"liverId"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}
