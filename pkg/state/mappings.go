package state

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ============================================
// ORIGIN MAPPING OPERATIONS
// ============================================

// UpsertOriginMapping inserts or updates the mapping for a drive item.
// Mappings are never deleted by the pipeline; a rename or move updates
// the existing row in place.
func (s *Store) UpsertOriginMapping(ctx context.Context, m *OriginMapping) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertMappingTx(tx, m)
	})
}

// GetOriginMapping returns the mapping for a drive item.
func (s *Store) GetOriginMapping(ctx context.Context, originID string) (*OriginMapping, error) {
	return getByField[OriginMapping](s.db, ctx, "origin_id", originID)
}

// ListMappingsByDigest returns every drive item currently linked to a
// content digest.
func (s *Store) ListMappingsByDigest(ctx context.Context, digest string) ([]*OriginMapping, error) {
	var mappings []*OriginMapping
	err := s.db.WithContext(ctx).
		Where("digest = ?", digest).
		Order("origin_id").
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// upsertMappingTx writes the mapping inside an open transaction. The
// explicit column list keeps created_at from the first sighting.
func upsertMappingTx(tx *gorm.DB, m *OriginMapping) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "origin_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"digest", "name", "path", "mime",
			"origin_created_at", "origin_modified_at", "size",
			"updated_at",
		}),
	}).Create(m).Error
}
