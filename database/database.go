package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound - No record for the external identity in that season.
	ErrNotFound = errors.New("identity not found")
	// ErrAlreadyBound - The record already has a platform account. Binds
	// never overwrite; the first successful verification wins.
	ErrAlreadyBound = errors.New("identity already bound")
)

const identitiesBucket = "identities"

// IdentityStore - Durable mapping from external identities to verified
// platform accounts, keyed per season. Backed by bbolt; records are
// JSON-encoded in a nested bucket per season.
type IdentityStore struct {
	db *bolt.DB
}

// Open - Open (or create) the identity database at path.
func Open(path string) (*IdentityStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	return &IdentityStore{db: db}, nil
}

// Close - Close the underlying database.
func (s *IdentityStore) Close() error {
	return s.db.Close()
}

// SeedSeason - Upsert roster entries for a season. Existing records keep
// their binding; only the display name is refreshed, so re-seeding after a
// config reload never un-verifies anyone.
func (s *IdentityStore) SeedSeason(seasonID string, entries []UserRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := seasonBucket(tx, seasonID, true)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			existing := b.Get([]byte(entry.ExternalID))
			if existing != nil {
				var rec UserRecord
				if err := json.Unmarshal(existing, &rec); err != nil {
					return err
				}
				rec.DisplayName = entry.DisplayName
				if err := putRecord(b, rec); err != nil {
					return err
				}
				continue
			}
			rec := UserRecord{
				DisplayName: entry.DisplayName,
				ExternalID:  entry.ExternalID,
				SeasonID:    seasonID,
			}
			if err := putRecord(b, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Resolve - Look up the record for an external identity within a season.
func (s *IdentityStore) Resolve(seasonID, externalID string) (UserRecord, error) {
	var rec UserRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := seasonBucket(tx, seasonID, false)
		if err != nil {
			return err
		}
		v := b.Get([]byte(externalID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

// Bind - Record the platform account for an external identity. This is the
// single write path for bindings and is a compare-and-set against the empty
// platform field: of any concurrent binds for the same record exactly one
// wins, the rest get ErrAlreadyBound. A re-bind to the same platform
// account is a no-op success.
func (s *IdentityStore) Bind(seasonID, externalID, platformID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := seasonBucket(tx, seasonID, false)
		if err != nil {
			return err
		}
		v := b.Get([]byte(externalID))
		if v == nil {
			return ErrNotFound
		}
		var rec UserRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if rec.PlatformID != "" {
			if rec.PlatformID == platformID {
				return nil
			}
			return ErrAlreadyBound
		}
		rec.PlatformID = platformID
		rec.BoundAt = time.Now().UTC()
		return putRecord(b, rec)
	})
}

// FindByPlatformID - Reverse lookup of a verified record by platform
// account within a season. Used by admin commands and resync sweeps.
func (s *IdentityStore) FindByPlatformID(seasonID, platformID string) (UserRecord, error) {
	var rec UserRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := seasonBucket(tx, seasonID, false)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			if found {
				return nil
			}
			var r UserRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.PlatformID == platformID {
				rec = r
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, ErrNotFound
	}
	return rec, nil
}

// VerifiedRecords - All bound records for a season.
func (s *IdentityStore) VerifiedRecords(seasonID string) ([]UserRecord, error) {
	var out []UserRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := seasonBucket(tx, seasonID, false)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var r UserRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Verified() {
				out = append(out, r)
			}
			return nil
		})
	})
	return out, err
}

func seasonBucket(tx *bolt.Tx, seasonID string, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(identitiesBucket))
	if root == nil {
		if !create {
			return nil, ErrNotFound
		}
		var err error
		root, err = tx.CreateBucket([]byte(identitiesBucket))
		if err != nil {
			return nil, err
		}
	}
	b := root.Bucket([]byte(seasonID))
	if b == nil {
		if !create {
			return nil, ErrNotFound
		}
		return root.CreateBucket([]byte(seasonID))
	}
	return b, nil
}

func putRecord(b *bolt.Bucket, rec UserRecord) error {
	bts, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.ExternalID), bts)
}
