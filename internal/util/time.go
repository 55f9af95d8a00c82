package util

import (
	"context"
	"time"
)

var jstLocation *time.Location

func init() {
	var err error
	jstLocation, err = time.LoadLocation("Asia/Tokyo")
	if err != nil {
		jstLocation = time.FixedZone("JST", 9*60*60)
	}
}

// ToJST converts a timestamp to the site's local timezone.
func ToJST(t time.Time) time.Time {
	return t.In(jstLocation)
}

func FormatJST(t time.Time, layout string) string {
	return ToJST(t).Format(layout)
}

// SleepContext sleeps for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
