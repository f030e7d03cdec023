package state

import "context"

// Statistics summarizes the pipeline state for reporting.
type Statistics struct {
	// ByStatus holds the record count per lifecycle status. Every valid
	// status is present, with zero for empty buckets.
	ByStatus map[Status]int64 `json:"by_status"`

	// Total is the number of content records.
	Total int64 `json:"total"`

	// WithErrors counts records carrying an unresolved error message.
	WithErrors int64 `json:"with_errors"`

	// TextBytes is the total size of extracted text across all records.
	TextBytes int64 `json:"text_bytes"`
}

// Statistics counts records per status plus totals.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByStatus: make(map[Status]int64, len(AllStatuses()))}
	for _, status := range AllStatuses() {
		stats.ByStatus[status] = 0
	}

	var rows []struct {
		Status Status
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&ContentRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	err = s.db.WithContext(ctx).Model(&ContentRecord{}).
		Where("error_message <> ''").
		Count(&stats.WithErrors).Error
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(&ContentRecord{}).
		Select("COALESCE(SUM(text_size), 0)").
		Scan(&stats.TextBytes).Error
	if err != nil {
		return nil, err
	}

	return stats, nil
}
