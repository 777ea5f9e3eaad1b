package access

import (
	"github.com/ksg-dk/gatekeeper/database"
	"github.com/ksg-dk/gatekeeper/seasons"
)

// SeedIdentities - Push every season's roster into the identity store.
// Run after each successful config load; existing bindings survive.
func SeedIdentities(store *database.IdentityStore, snap *seasons.Snapshot) error {
	for id, season := range snap.Seasons() {
		entries := make([]database.UserRecord, 0, len(season.Roster))
		for _, e := range season.Roster {
			entries = append(entries, database.UserRecord{
				DisplayName: e.Name,
				ExternalID:  e.ExternalID,
				SeasonID:    id,
			})
		}
		if err := store.SeedSeason(id, entries); err != nil {
			return err
		}
	}
	return nil
}
