package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Project struct {
	ID         string
	Title      string
	SourceFile string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Chapter struct {
	ID        string
	ProjectID string
	Number    int
	Title     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChapterSettings are per-chapter voice overrides. Zero values mean
// "use the configured default".
type ChapterSettings struct {
	ChapterID   string
	Voice       string
	Temperature float64
	Speed       float64
}

func (s *Store) CreateProject(title, sourceFile string) (Project, error) {
	now := s.now()
	p := Project{
		ID:         uuid.NewString(),
		Title:      title,
		SourceFile: sourceFile,
		Status:     "active",
	}
	_, err := s.db.Exec(
		`INSERT INTO projects (id, title, source_file, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.SourceFile, p.Status, now, now)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return s.GetProject(p.ID)
}

func (s *Store) GetProject(id string) (Project, error) {
	row := s.db.QueryRow(
		`SELECT id, title, source_file, status, created_at, updated_at
		 FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// FindProjectBySource returns the most recent project created for a
// source file. Resumed runs reuse it instead of starting over.
func (s *Store) FindProjectBySource(sourceFile string) (Project, error) {
	row := s.db.QueryRow(
		`SELECT id, title, source_file, status, created_at, updated_at
		 FROM projects WHERE source_file = ?
		 ORDER BY created_at DESC LIMIT 1`, sourceFile)
	return scanProject(row)
}

func scanProject(row *sql.Row) (Project, error) {
	var p Project
	var created, updated string
	err := row.Scan(&p.ID, &p.Title, &p.SourceFile, &p.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return p, nil
}

func (s *Store) CreateChapter(projectID string, number int, title string) (Chapter, error) {
	now := s.now()
	c := Chapter{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Number:    number,
		Title:     title,
		Status:    StatusPending,
	}
	_, err := s.db.Exec(
		`INSERT INTO chapters (id, project_id, chapter_number, title, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Number, c.Title, c.Status, now, now)
	if err != nil {
		return Chapter{}, fmt.Errorf("insert chapter: %w", err)
	}
	return s.GetChapter(c.ID)
}

func (s *Store) GetChapter(id string) (Chapter, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, chapter_number, title, status, created_at, updated_at
		 FROM chapters WHERE id = ?`, id)
	return scanChapter(row)
}

// FindChapter locates a chapter by project and number.
func (s *Store) FindChapter(projectID string, number int) (Chapter, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, chapter_number, title, status, created_at, updated_at
		 FROM chapters WHERE project_id = ? AND chapter_number = ?`, projectID, number)
	return scanChapter(row)
}

func (s *Store) ChaptersForProject(projectID string) ([]Chapter, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, chapter_number, title, status, created_at, updated_at
		 FROM chapters WHERE project_id = ? ORDER BY chapter_number`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query chapters: %w", err)
	}
	defer rows.Close()

	var out []Chapter
	for rows.Next() {
		var c Chapter
		var created, updated string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Number, &c.Title, &c.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChapter(row *sql.Row) (Chapter, error) {
	var c Chapter
	var created, updated string
	err := row.Scan(&c.ID, &c.ProjectID, &c.Number, &c.Title, &c.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("scan chapter: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return c, nil
}

func (s *Store) UpdateChapterStatus(id, status string) error {
	res, err := s.db.Exec(
		`UPDATE chapters SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.now(), id)
	if err != nil {
		return fmt.Errorf("update chapter status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChapterSettings stores per-chapter voice overrides, replacing any
// previous row.
func (s *Store) SetChapterSettings(settings ChapterSettings) error {
	_, err := s.db.Exec(
		`INSERT INTO chapter_settings (chapter_id, voice, temperature, speed)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chapter_id) DO UPDATE SET
		   voice = excluded.voice,
		   temperature = excluded.temperature,
		   speed = excluded.speed`,
		settings.ChapterID, settings.Voice, settings.Temperature, settings.Speed)
	if err != nil {
		return fmt.Errorf("upsert chapter settings: %w", err)
	}
	return nil
}

// GetChapterSettings returns the overrides for a chapter, or zero
// settings when none were stored.
func (s *Store) GetChapterSettings(chapterID string) (ChapterSettings, error) {
	row := s.db.QueryRow(
		`SELECT chapter_id, voice, temperature, speed
		 FROM chapter_settings WHERE chapter_id = ?`, chapterID)
	var cs ChapterSettings
	err := row.Scan(&cs.ChapterID, &cs.Voice, &cs.Temperature, &cs.Speed)
	if errors.Is(err, sql.ErrNoRows) {
		return ChapterSettings{ChapterID: chapterID}, nil
	}
	if err != nil {
		return ChapterSettings{}, fmt.Errorf("scan chapter settings: %w", err)
	}
	return cs, nil
}
