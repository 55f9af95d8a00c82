package domain

import (
	"time"

	"github.com/kapu/liver-scraper-go/internal/util"
)

// BatchProgress is the resume checkpoint one incremental stage keeps in
// the key-value store. LastIndex is the cursor into the roster ordering;
// it advances for every attempted item so a poisoned item cannot wedge
// the stage.
type BatchProgress struct {
	Status       string    `json:"status"`
	TotalItems   int       `json:"totalItems"`
	LastIndex    int       `json:"lastIndex"`
	ProcessedIDs []string  `json:"processedIds,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Complete reports whether the cursor has passed the end of the roster.
func (p *BatchProgress) Complete() bool {
	return p.TotalItems > 0 && p.LastIndex >= p.TotalItems
}

// MatchesRoster reports whether the checkpoint still describes a roster
// of this size. A mismatch means the roster changed under us and the
// stage must restart from zero.
func (p *BatchProgress) MatchesRoster(total int) bool {
	return p.TotalItems == total
}

func (p *BatchProgress) MarkProcessed(id string) {
	if util.Contains(p.ProcessedIDs, id) {
		return
	}
	p.ProcessedIDs = append(p.ProcessedIDs, id)
}

func (p *BatchProgress) RecordError(msg string) {
	// Bounded so a long outage cannot grow the checkpoint unboundedly.
	const maxErrors = 50
	if len(p.Errors) >= maxErrors {
		p.Errors = p.Errors[1:]
	}
	p.Errors = append(p.Errors, msg)
}
