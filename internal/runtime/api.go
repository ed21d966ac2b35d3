package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/versolabs/verso-core/internal/jobs"
	"github.com/versolabs/verso-core/internal/pipeline"
	"github.com/versolabs/verso-core/internal/store"
)

type processChapterBody struct {
	SourceFile    string  `json:"source_file"`
	ProjectTitle  string  `json:"project_title"`
	ChapterNumber int     `json:"chapter_number"`
	ChapterTitle  string  `json:"chapter_title"`
	Text          string  `json:"text"`
	Voice         string  `json:"voice,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
}

type restitchBody struct {
	ExcludedChunks []int `json:"excluded_chunks,omitempty"`
}

type insertChunkBody struct {
	ChunkNumber int    `json:"chunk_number"`
	Text        string `json:"text"`
}

type updateChunkBody struct {
	Text string `json:"text"`
}

type chunkParamsBody struct {
	Voice       string  `json:"voice,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
}

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chapters/process", r.handleProcessChapter)
	mux.HandleFunc("POST /v1/chapters/{id}/restitch", r.handleRestitch)
	mux.HandleFunc("POST /v1/chapters/{id}/reprocess", r.handleBatchReprocess)
	mux.HandleFunc("POST /v1/chapters/{id}/chunks", r.handleInsertChunk)
	mux.HandleFunc("GET /v1/chapters/{id}/summary", r.handleSummary)
	mux.HandleFunc("GET /v1/chapters/{id}/words", r.handleWordMap)
	mux.HandleFunc("POST /v1/chunks/{id}/reprocess", r.handleReprocessChunk)
	mux.HandleFunc("POST /v1/chunks/{id}/mark-reprocess", r.handleMarkReprocess)
	mux.HandleFunc("PUT /v1/chunks/{id}/text", r.handleUpdateChunkText)
	mux.HandleFunc("PUT /v1/chunks/{id}/params", r.handleChunkParams)
	mux.HandleFunc("GET /v1/jobs", r.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", r.handleGetJob)
}

// handleProcessChapter accepts a chapter and runs it in the background.
// The response carries the job to poll; chunk-level progress also flows
// over the bus when it is enabled.
func (r *Runtime) handleProcessChapter(w http.ResponseWriter, req *http.Request) {
	var body processChapterBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Text == "" || body.SourceFile == "" || body.ChapterNumber <= 0 {
		writeError(w, http.StatusBadRequest, "source_file, chapter_number, and text are required")
		return
	}

	job := r.registry.Create("process_chapter", "")
	go func() {
		_, err := r.pipeline.ProcessChapter(context.Background(), pipeline.ProcessRequest{
			SourceFile:    body.SourceFile,
			ProjectTitle:  body.ProjectTitle,
			ChapterNumber: body.ChapterNumber,
			ChapterTitle:  body.ChapterTitle,
			Text:          body.Text,
			Voice:         body.Voice,
			Temperature:   body.Temperature,
			Speed:         body.Speed,
			JobID:         job.ID,
		})
		if err != nil {
			r.logger.Error("chapter processing failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (r *Runtime) handleRestitch(w http.ResponseWriter, req *http.Request) {
	var body restitchBody
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	version, err := r.pipeline.Restitch(req.Context(), req.PathValue("id"), body.ExcludedChunks)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (r *Runtime) handleBatchReprocess(w http.ResponseWriter, req *http.Request) {
	recovered, err := r.pipeline.BatchReprocess(req.Context(), req.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recovered": recovered})
}

func (r *Runtime) handleInsertChunk(w http.ResponseWriter, req *http.Request) {
	var body insertChunkBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ChunkNumber <= 0 || body.Text == "" {
		writeError(w, http.StatusBadRequest, "chunk_number and text are required")
		return
	}

	chunk, err := r.pipeline.InsertChunk(req.Context(), req.PathValue("id"), body.ChunkNumber, body.Text)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chunk)
}

func (r *Runtime) handleSummary(w http.ResponseWriter, req *http.Request) {
	summary, err := r.pipeline.Summary(req.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Runtime) handleWordMap(w http.ResponseWriter, req *http.Request) {
	words, err := r.pipeline.WordMap(req.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if words == nil {
		words = []store.ChapterWord{}
	}
	writeJSON(w, http.StatusOK, words)
}

func (r *Runtime) handleReprocessChunk(w http.ResponseWriter, req *http.Request) {
	version, err := r.pipeline.ReprocessChunk(req.Context(), req.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// handleMarkReprocess flags a chunk for the next batch reprocess run
// without synthesizing anything.
func (r *Runtime) handleMarkReprocess(w http.ResponseWriter, req *http.Request) {
	chunk, err := r.pipeline.MarkChunkForReprocess(req.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

func (r *Runtime) handleChunkParams(w http.ResponseWriter, req *http.Request) {
	var body chunkParamsBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chunk, err := r.pipeline.SetChunkParams(req.PathValue("id"), body.Voice, body.Temperature, body.Speed)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

func (r *Runtime) handleUpdateChunkText(w http.ResponseWriter, req *http.Request) {
	var body updateChunkBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	version, err := r.pipeline.UpdateChunkText(req.Context(), req.PathValue("id"), body.Text)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (r *Runtime) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.registry.List())
}

func (r *Runtime) handleGetJob(w http.ResponseWriter, req *http.Request) {
	job, err := r.registry.Get(req.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrNoUsableChunks):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
