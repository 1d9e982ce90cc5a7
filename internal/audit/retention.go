package audit

import (
	"fmt"
	"time"
)

const (
	MinRetentionDays     = 90
	DefaultRetentionDays = 365
)

// CheckRetentionPolicy guards any configured purge window.
func CheckRetentionPolicy(requestedDays int) error {
	if requestedDays < MinRetentionDays {
		return fmt.Errorf("compliance violation: attempt retention must be minimum %d days (requested: %d)", MinRetentionDays, requestedDays)
	}
	return nil
}

// SafePurgeDate is the newest timestamp an external purge may delete up to.
// Anything at or after it must be kept.
func SafePurgeDate(now time.Time, retentionDays int) time.Time {
	if retentionDays < MinRetentionDays {
		retentionDays = MinRetentionDays
	}
	return now.AddDate(0, 0, -retentionDays)
}

// CanPurge checks if an attempt timestamp is eligible for purging
func CanPurge(recordTime, now time.Time, retentionDays int) bool {
	return recordTime.Before(SafePurgeDate(now, retentionDays))
}
