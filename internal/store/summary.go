package store

import (
	"fmt"
)

// ChapterSummary is a read-only roll-up of chunk state for operator
// reporting. Nothing is mutated to produce it.
type ChapterSummary struct {
	ChapterID       string
	TotalChunks     int
	Pending         int
	Processing      int
	Completed       int
	Failed          int
	NeedsReprocess  int
	TotalDurationS  float64
	AverageAccuracy float64
}

func (s *Store) ChapterSummary(chapterID string) (ChapterSummary, error) {
	summary := ChapterSummary{ChapterID: chapterID}

	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM chunks WHERE chapter_id = ? GROUP BY status`,
		chapterID)
	if err != nil {
		return ChapterSummary{}, fmt.Errorf("query chunk counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return ChapterSummary{}, fmt.Errorf("scan chunk count: %w", err)
		}
		summary.TotalChunks += count
		switch status {
		case StatusPending:
			summary.Pending = count
		case StatusProcessing:
			summary.Processing = count
		case StatusCompleted:
			summary.Completed = count
		case StatusFailed:
			summary.Failed = count
		case StatusNeedsReprocess:
			summary.NeedsReprocess = count
		}
	}
	if err := rows.Err(); err != nil {
		return ChapterSummary{}, err
	}

	// AVG skips NULL rows, so unverified versions never drag the score.
	err = s.db.QueryRow(
		`SELECT COALESCE(SUM(av.duration_seconds), 0), COALESCE(AVG(av.accuracy), 0)
		 FROM audio_versions av
		 JOIN chunks c ON c.id = av.chunk_id
		 WHERE c.chapter_id = ? AND av.is_active = 1`,
		chapterID).Scan(&summary.TotalDurationS, &summary.AverageAccuracy)
	if err != nil {
		return ChapterSummary{}, fmt.Errorf("query audio totals: %w", err)
	}
	return summary, nil
}
