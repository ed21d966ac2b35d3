package protocol

import "time"

// ChunkProgress is published for every chunk state change during
// chapter processing. Dashboards and the operator CLI subscribe to
// follow a long run live.
type ChunkProgress struct {
	JobID       string    `json:"job_id"`
	ChapterID   string    `json:"chapter_id"`
	ChunkID     string    `json:"chunk_id"`
	ChunkNumber int       `json:"chunk_number"`
	TotalChunks int       `json:"total_chunks"`
	Status      string    `json:"status"`
	Accuracy    float64   `json:"accuracy,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChapterDone is published once when a chapter finishes processing,
// successfully or not.
type ChapterDone struct {
	JobID        string    `json:"job_id"`
	ChapterID    string    `json:"chapter_id"`
	FilePath     string    `json:"file_path,omitempty"`
	TotalChunks  int       `json:"total_chunks"`
	FailedChunks int       `json:"failed_chunks"`
	Coverage     float64   `json:"coverage"`
	Succeeded    bool      `json:"succeeded"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectChunkProgress = "pipeline.chunk.progress"
	SubjectChapterDone   = "pipeline.chapter.done"
)
