package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/versolabs/verso-core/internal/stt"
)

// AudioVersion is one synthesis result for a chunk. Exactly one
// version per chunk is active at a time. Accuracy is only meaningful
// when Verified is set; an unverified version stores no score at all.
type AudioVersion struct {
	ID              string
	ChunkID         string
	Version         int
	FilePath        string
	IsActive        bool
	DurationSeconds float64
	Accuracy        float64
	Verified        bool
	ContentHash     string
	CreatedAt       time.Time
}

// ChapterAudioVersion is one stitched chapter file, with the chunk
// numbers that went into it and the ones deliberately left out.
type ChapterAudioVersion struct {
	ID             string
	ChapterID      string
	Version        int
	FilePath       string
	IsActive       bool
	IncludedChunks []int
	ExcludedChunks []int
	Checksum       string
	CreatedAt      time.Time
}

// CreateAudioVersion records a new synthesis result as the active
// version, deactivating every previous one in the same transaction so
// there is never a moment with two active versions. The chunk's
// content hash at synthesis time is stamped on the version so resume
// logic can tell whether the audio still matches the text. Pass
// verified=false when no verification score exists for this version.
func (s *Store) CreateAudioVersion(chunkID, filePath string, durationSeconds, accuracy float64, verified bool) (AudioVersion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return AudioVersion{}, fmt.Errorf("begin audio version: %w", err)
	}
	defer tx.Rollback()

	var contentHash string
	if err := tx.QueryRow(
		`SELECT content_hash FROM chunks WHERE id = ?`, chunkID).Scan(&contentHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AudioVersion{}, ErrNotFound
		}
		return AudioVersion{}, fmt.Errorf("chunk content hash: %w", err)
	}

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM audio_versions WHERE chunk_id = ?`,
		chunkID).Scan(&next); err != nil {
		return AudioVersion{}, fmt.Errorf("next version number: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE audio_versions SET is_active = 0 WHERE chunk_id = ?`, chunkID); err != nil {
		return AudioVersion{}, fmt.Errorf("deactivate versions: %w", err)
	}

	score := sql.NullFloat64{Float64: accuracy, Valid: verified}
	id := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO audio_versions (id, chunk_id, version_number, file_path, is_active,
		                             duration_seconds, accuracy, content_hash, created_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		id, chunkID, next, filePath, durationSeconds, score, contentHash, s.now()); err != nil {
		return AudioVersion{}, fmt.Errorf("insert audio version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AudioVersion{}, fmt.Errorf("commit audio version: %w", err)
	}
	return s.getAudioVersion(id)
}

const audioVersionColumns = `id, chunk_id, version_number, file_path, is_active,
	duration_seconds, accuracy, content_hash, created_at`

func (s *Store) getAudioVersion(id string) (AudioVersion, error) {
	row := s.db.QueryRow(
		`SELECT `+audioVersionColumns+` FROM audio_versions WHERE id = ?`, id)
	return scanAudioVersion(row)
}

// ActiveAudioVersion returns the active version for a chunk, or
// ErrNotFound when the chunk has never been synthesized.
func (s *Store) ActiveAudioVersion(chunkID string) (AudioVersion, error) {
	row := s.db.QueryRow(
		`SELECT `+audioVersionColumns+` FROM audio_versions WHERE chunk_id = ? AND is_active = 1`, chunkID)
	return scanAudioVersion(row)
}

func (s *Store) AudioVersions(chunkID string) ([]AudioVersion, error) {
	rows, err := s.db.Query(
		`SELECT `+audioVersionColumns+` FROM audio_versions WHERE chunk_id = ? ORDER BY version_number`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("query audio versions: %w", err)
	}
	defer rows.Close()

	var out []AudioVersion
	for rows.Next() {
		var v AudioVersion
		var active int
		var score sql.NullFloat64
		var created string
		if err := rows.Scan(&v.ID, &v.ChunkID, &v.Version, &v.FilePath, &active,
			&v.DurationSeconds, &score, &v.ContentHash, &created); err != nil {
			return nil, fmt.Errorf("scan audio version: %w", err)
		}
		v.IsActive = active == 1
		v.Accuracy, v.Verified = score.Float64, score.Valid
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanAudioVersion(row *sql.Row) (AudioVersion, error) {
	var v AudioVersion
	var active int
	var score sql.NullFloat64
	var created string
	err := row.Scan(&v.ID, &v.ChunkID, &v.Version, &v.FilePath, &active,
		&v.DurationSeconds, &score, &v.ContentHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return AudioVersion{}, ErrNotFound
	}
	if err != nil {
		return AudioVersion{}, fmt.Errorf("scan audio version: %w", err)
	}
	v.IsActive = active == 1
	v.Accuracy, v.Verified = score.Float64, score.Valid
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return v, nil
}

// CreateChapterAudioVersion records a stitched chapter file as active,
// deactivating earlier stitches first.
func (s *Store) CreateChapterAudioVersion(chapterID, filePath, checksum string, included, excluded []int) (ChapterAudioVersion, error) {
	includedJSON, err := json.Marshal(intsOrEmpty(included))
	if err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("marshal included chunks: %w", err)
	}
	excludedJSON, err := json.Marshal(intsOrEmpty(excluded))
	if err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("marshal excluded chunks: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("begin chapter version: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM chapter_audio_versions WHERE chapter_id = ?`,
		chapterID).Scan(&next); err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("next chapter version: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE chapter_audio_versions SET is_active = 0 WHERE chapter_id = ?`, chapterID); err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("deactivate chapter versions: %w", err)
	}

	id := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO chapter_audio_versions (id, chapter_id, version_number, file_path, is_active,
		                                     included_chunks, excluded_chunks, checksum, created_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		id, chapterID, next, filePath, string(includedJSON), string(excludedJSON), checksum, s.now()); err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("insert chapter version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("commit chapter version: %w", err)
	}
	return s.getChapterAudioVersion(id)
}

func (s *Store) getChapterAudioVersion(id string) (ChapterAudioVersion, error) {
	row := s.db.QueryRow(
		`SELECT id, chapter_id, version_number, file_path, is_active,
		        included_chunks, excluded_chunks, checksum, created_at
		 FROM chapter_audio_versions WHERE id = ?`, id)
	return scanChapterAudioVersion(row)
}

// ActiveChapterAudioVersion returns the active stitched file for a
// chapter.
func (s *Store) ActiveChapterAudioVersion(chapterID string) (ChapterAudioVersion, error) {
	row := s.db.QueryRow(
		`SELECT id, chapter_id, version_number, file_path, is_active,
		        included_chunks, excluded_chunks, checksum, created_at
		 FROM chapter_audio_versions WHERE chapter_id = ? AND is_active = 1`, chapterID)
	return scanChapterAudioVersion(row)
}

func scanChapterAudioVersion(row *sql.Row) (ChapterAudioVersion, error) {
	var v ChapterAudioVersion
	var active int
	var created, includedJSON, excludedJSON string
	err := row.Scan(&v.ID, &v.ChapterID, &v.Version, &v.FilePath, &active,
		&includedJSON, &excludedJSON, &v.Checksum, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return ChapterAudioVersion{}, ErrNotFound
	}
	if err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("scan chapter version: %w", err)
	}
	v.IsActive = active == 1
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if err := json.Unmarshal([]byte(includedJSON), &v.IncludedChunks); err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("decode included chunks: %w", err)
	}
	if err := json.Unmarshal([]byte(excludedJSON), &v.ExcludedChunks); err != nil {
		return ChapterAudioVersion{}, fmt.Errorf("decode excluded chunks: %w", err)
	}
	return v, nil
}

// ReplaceWordTimings swaps the stored word timings for a chunk's
// audio version.
func (s *Store) ReplaceWordTimings(chunkID, audioVersionID string, timings []stt.WordTiming) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin word timings: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM word_timings WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("clear word timings: %w", err)
	}
	for _, t := range timings {
		if _, err := tx.Exec(
			`INSERT INTO word_timings (chunk_id, audio_version_id, word, start_time, end_time)
			 VALUES (?, ?, ?, ?, ?)`,
			chunkID, audioVersionID, t.Word, t.Start, t.End); err != nil {
			return fmt.Errorf("insert word timing: %w", err)
		}
	}
	return tx.Commit()
}

// WordTimingsForChunk returns stored timings in audio order.
func (s *Store) WordTimingsForChunk(chunkID string) ([]stt.WordTiming, error) {
	rows, err := s.db.Query(
		`SELECT word, start_time, end_time FROM word_timings
		 WHERE chunk_id = ? ORDER BY start_time`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("query word timings: %w", err)
	}
	defer rows.Close()

	var out []stt.WordTiming
	for rows.Next() {
		var t stt.WordTiming
		if err := rows.Scan(&t.Word, &t.Start, &t.End); err != nil {
			return nil, fmt.Errorf("scan word timing: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ChapterWord is one narrated word with its absolute position in the
// stitched chapter audio.
type ChapterWord struct {
	ChunkNumber int     `json:"chunk_number"`
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

// ChapterWordMap flattens every completed chunk's word timings into one
// chapter-wide timeline. Per-chunk timings are relative to the chunk
// audio, so each chunk's words are shifted by the summed duration of
// the active versions before it.
func (s *Store) ChapterWordMap(chapterID string) ([]ChapterWord, error) {
	chunks, err := s.ChunksForChapter(chapterID)
	if err != nil {
		return nil, err
	}

	var out []ChapterWord
	offset := 0.0
	for _, chunk := range chunks {
		if chunk.Status != StatusCompleted {
			continue
		}
		version, err := s.ActiveAudioVersion(chunk.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		timings, err := s.WordTimingsForChunk(chunk.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range timings {
			out = append(out, ChapterWord{
				ChunkNumber: chunk.Number,
				Word:        t.Word,
				Start:       offset + t.Start,
				End:         offset + t.End,
			})
		}
		offset += version.DurationSeconds
	}
	return out, nil
}

func intsOrEmpty(in []int) []int {
	if in == nil {
		return []int{}
	}
	return in
}
