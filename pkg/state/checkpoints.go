package state

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ============================================
// CHECKPOINT OPERATIONS
// ============================================

// GetCheckpoint returns the stored value for a named checkpoint, or ""
// when the checkpoint has never been written.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (string, error) {
	var cp Checkpoint
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&cp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return cp.Value, nil
}

// SetCheckpoint stores a named checkpoint value, overwriting any
// previous value.
func (s *Store) SetCheckpoint(ctx context.Context, name, value string) error {
	cp := Checkpoint{
		Name:      name,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Save(&cp).Error
}

// DeleteCheckpoint removes a named checkpoint.
func (s *Store) DeleteCheckpoint(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&Checkpoint{}).Error
}
