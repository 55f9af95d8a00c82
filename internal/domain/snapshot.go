package domain

import (
	"time"

	"github.com/kapu/liver-scraper-go/internal/util"
)

// Snapshot sources
const (
	SourceBasic      = "basic"
	SourceIntegrated = "integrated"
	SourceDetailed   = "detailed"
	SourcePreserved  = "preserved"
	SourceBasicOnly  = "none-basic-only"
)

// RosterSnapshot is what gets persisted to the roster slots: one full
// pass over the listing plus whatever detail enrichment has been merged
// into it.
type RosterSnapshot struct {
	Timestamp   time.Time         `json:"timestamp"`
	TotalItems  int               `json:"totalItems"`
	Data        []*LiverRecord    `json:"data"`
	LastUpdate  string            `json:"lastUpdate,omitempty"`
	Source      string            `json:"source,omitempty"`
	SourceSlot  string            `json:"sourceSlot,omitempty"`
	Integration *IntegrationStats `json:"integration,omitempty"`
}

type IntegrationStats struct {
	WithDetails  int       `json:"withDetails"`
	BasicOnly    int       `json:"basicOnly"`
	PriorSlot    string    `json:"priorSlot,omitempty"`
	IntegratedAt time.Time `json:"integratedAt"`
}

// WithDetails counts records carrying detail enrichment.
func (s *RosterSnapshot) WithDetails() int {
	n := 0
	for _, rec := range s.Data {
		if rec != nil && rec.HasDetails {
			n++
		}
	}
	return n
}

// Valid reports whether the snapshot is internally consistent: it
// holds records and its recorded total matches them. A slot whose
// total drifted from its records is treated as corrupt.
func (s *RosterSnapshot) Valid() bool {
	return s != nil && len(s.Data) > 0 && s.TotalItems == len(s.Data)
}

// HasDetailedRecords reports whether at least one record is detailed,
// which qualifies the snapshot as a last-known-good candidate.
func (s *RosterSnapshot) HasDetailedRecords() bool {
	return s.Valid() && s.WithDetails() > 0
}

// NewSnapshot builds a snapshot around records at the given time.
func NewSnapshot(records []*LiverRecord, source string, now time.Time) *RosterSnapshot {
	return &RosterSnapshot{
		Timestamp:  now,
		TotalItems: len(records),
		Data:       records,
		LastUpdate: util.FormatJST(now, "2006-01-02 15:04:05"),
		Source:     source,
	}
}

// WorkerStatus records the last observed state of one pipeline stage.
type WorkerStatus struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	LastUpdate string    `json:"lastUpdate,omitempty"`
	Total      int       `json:"total,omitempty"`
	Processed  int       `json:"processed,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Message    string    `json:"message,omitempty"`
}
