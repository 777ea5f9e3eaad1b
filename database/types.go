package database

import (
	"time"
)

// UserRecord - Identity record for one roster member, scoped to a season.
// PlatformID is empty until the member verifies; it is written at most
// once and never overwritten.
type UserRecord struct {
	DisplayName string
	ExternalID  string
	SeasonID    string
	PlatformID  string
	BoundAt     time.Time
}

// Verified - Whether the record has been bound to a platform account.
func (u UserRecord) Verified() bool {
	return u.PlatformID != ""
}
