package domain

import (
	"testing"
	"time"
)

func TestSnapshotValid(t *testing.T) {
	records := []*LiverRecord{{ID: "158", Name: "Aoi"}}

	cases := []struct {
		name string
		snap *RosterSnapshot
		want bool
	}{
		{"nil snapshot", nil, false},
		{"no records", NewSnapshot(nil, SourceBasic, time.Now()), false},
		{"consistent", NewSnapshot(records, SourceBasic, time.Now()), true},
		{"total drifted", &RosterSnapshot{TotalItems: 3, Data: records}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.snap.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewSnapshotLastUpdate(t *testing.T) {
	now := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	snap := NewSnapshot([]*LiverRecord{{ID: "1"}}, SourceBasic, now)

	if snap.LastUpdate == "" {
		t.Fatal("LastUpdate not set")
	}
	// Rendered in JST, nine hours ahead of UTC.
	if snap.LastUpdate != "2026-08-29 12:00:00" {
		t.Errorf("LastUpdate = %q", snap.LastUpdate)
	}
	if snap.TotalItems != 1 {
		t.Errorf("TotalItems = %d", snap.TotalItems)
	}
}
