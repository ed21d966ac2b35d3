package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Chunk struct {
	ID            string
	ChapterID     string
	Number        int
	Text          string
	ContentHash   string
	Status        string
	PositionStart int
	PositionEnd   int
	LastError     string

	// Per-chunk synthesis overrides. Zero values defer to the chapter
	// settings.
	Voice       string
	Temperature float64
	Speed       float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HashText is the canonical content hash used to detect whether a
// stored chunk still matches its source text across runs.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *Store) CreateChunk(chapterID string, number int, text string, posStart, posEnd int) (Chunk, error) {
	now := s.now()
	c := Chunk{
		ID:            uuid.NewString(),
		ChapterID:     chapterID,
		Number:        number,
		Text:          text,
		ContentHash:   HashText(text),
		Status:        StatusPending,
		PositionStart: posStart,
		PositionEnd:   posEnd,
	}
	_, err := s.db.Exec(
		`INSERT INTO chunks (id, chapter_id, chunk_number, text, content_hash, status,
		                     position_start, position_end, last_error, voice, temperature, speed,
		                     created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', 0, 0, ?, ?)`,
		c.ID, c.ChapterID, c.Number, c.Text, c.ContentHash, c.Status,
		c.PositionStart, c.PositionEnd, now, now)
	if err != nil {
		return Chunk{}, fmt.Errorf("insert chunk: %w", err)
	}
	return s.GetChunk(c.ID)
}

const chunkColumns = `id, chapter_id, chunk_number, text, content_hash, status,
	position_start, position_end, last_error, voice, temperature, speed, created_at, updated_at`

func (s *Store) GetChunk(id string) (Chunk, error) {
	row := s.db.QueryRow(`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	return scanChunk(row)
}

// FindChunk locates a chunk by chapter and position.
func (s *Store) FindChunk(chapterID string, number int) (Chunk, error) {
	row := s.db.QueryRow(
		`SELECT `+chunkColumns+` FROM chunks WHERE chapter_id = ? AND chunk_number = ?`,
		chapterID, number)
	return scanChunk(row)
}

func (s *Store) ChunksForChapter(chapterID string) ([]Chunk, error) {
	rows, err := s.db.Query(
		`SELECT `+chunkColumns+` FROM chunks WHERE chapter_id = ? ORDER BY chunk_number`,
		chapterID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ReprocessCandidates returns chunks that failed, were flagged for
// reprocessing, or whose active audio scored below the threshold. A
// NULL accuracy means the version was never verified and is not a
// score-based candidate.
func (s *Store) ReprocessCandidates(chapterID string, accuracyBelow float64) ([]Chunk, error) {
	rows, err := s.db.Query(
		`SELECT `+chunkColumns+` FROM chunks c
		 WHERE c.chapter_id = ?
		   AND (c.status IN (?, ?)
		        OR EXISTS (SELECT 1 FROM audio_versions av
		                   WHERE av.chunk_id = c.id AND av.is_active = 1
		                     AND av.accuracy IS NOT NULL AND av.accuracy < ?))
		 ORDER BY c.chunk_number`,
		chapterID, StatusFailed, StatusNeedsReprocess, accuracyBelow)
	if err != nil {
		return nil, fmt.Errorf("query reprocess candidates: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// UpdateChunkStatus transitions a chunk and records the error message
// for failed transitions. Setting the same status twice is harmless;
// only updated_at moves.
func (s *Store) UpdateChunkStatus(id, status, lastError string) error {
	res, err := s.db.Exec(
		`UPDATE chunks SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, s.now(), id)
	if err != nil {
		return fmt.Errorf("update chunk status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChunkParams sets per-chunk synthesis overrides. Zero values
// clear the override so the chapter settings apply again.
func (s *Store) UpdateChunkParams(id, voice string, temperature, speed float64) error {
	res, err := s.db.Exec(
		`UPDATE chunks SET voice = ?, temperature = ?, speed = ?, updated_at = ? WHERE id = ?`,
		voice, temperature, speed, s.now(), id)
	if err != nil {
		return fmt.Errorf("update chunk params: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChunkText replaces a chunk's text and recomputes its content
// hash. The chunk drops back to pending since its audio no longer
// matches.
func (s *Store) UpdateChunkText(id, text string) error {
	res, err := s.db.Exec(
		`UPDATE chunks SET text = ?, content_hash = ?, status = ?, updated_at = ? WHERE id = ?`,
		text, HashText(text), StatusPending, s.now(), id)
	if err != nil {
		return fmt.Errorf("update chunk text: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertChunkAt inserts a new chunk at the given position, shifting
// every following chunk up by one. The shift and insert run in a
// single transaction so the chapter's numbering stays contiguous.
func (s *Store) InsertChunkAt(chapterID string, number int, text string) (Chunk, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Chunk{}, fmt.Errorf("begin insert chunk: %w", err)
	}
	defer tx.Rollback()

	now := s.now()

	// Two-step shift through negative numbers keeps the unique
	// (chapter_id, chunk_number) constraint satisfied mid-update.
	if _, err := tx.Exec(
		`UPDATE chunks SET chunk_number = -(chunk_number + 1), updated_at = ?
		 WHERE chapter_id = ? AND chunk_number >= ?`,
		now, chapterID, number); err != nil {
		return Chunk{}, fmt.Errorf("shift chunks: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE chunks SET chunk_number = -chunk_number
		 WHERE chapter_id = ? AND chunk_number < 0`,
		chapterID); err != nil {
		return Chunk{}, fmt.Errorf("unshift chunks: %w", err)
	}

	id := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO chunks (id, chapter_id, chunk_number, text, content_hash, status,
		                     position_start, position_end, last_error, voice, temperature, speed,
		                     created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, '', '', 0, 0, ?, ?)`,
		id, chapterID, number, text, HashText(text), StatusPending, now, now); err != nil {
		return Chunk{}, fmt.Errorf("insert chunk at position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Chunk{}, fmt.Errorf("commit insert chunk: %w", err)
	}
	return s.GetChunk(id)
}

func scanChunk(row *sql.Row) (Chunk, error) {
	var c Chunk
	var created, updated string
	err := row.Scan(&c.ID, &c.ChapterID, &c.Number, &c.Text, &c.ContentHash, &c.Status,
		&c.PositionStart, &c.PositionEnd, &c.LastError, &c.Voice, &c.Temperature, &c.Speed,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Chunk{}, ErrNotFound
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return c, nil
}

func collectChunks(rows *sql.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var c Chunk
		var created, updated string
		if err := rows.Scan(&c.ID, &c.ChapterID, &c.Number, &c.Text, &c.ContentHash, &c.Status,
			&c.PositionStart, &c.PositionEnd, &c.LastError, &c.Voice, &c.Temperature, &c.Speed,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, c)
	}
	return out, rows.Err()
}
