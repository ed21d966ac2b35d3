package runtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/versolabs/verso-core/internal/audio"
	"github.com/versolabs/verso-core/internal/config"
	"github.com/versolabs/verso-core/internal/jobs"
	"github.com/versolabs/verso-core/internal/pipeline"
	"github.com/versolabs/verso-core/internal/store"
	"github.com/versolabs/verso-core/internal/stt"
	"github.com/versolabs/verso-core/internal/textseg"
	"github.com/versolabs/verso-core/internal/tts"
	"github.com/versolabs/verso-core/internal/verify"
)

func newTestRuntime(t *testing.T) (*Runtime, *http.ServeMux) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Pipeline.OutputDir = t.TempDir()
	cfg.Audio = config.AudioConfig{SampleRate: 8000, Channels: 1, BitDepth: 16, FadeMS: 10}
	cfg.TTS.CallsPerMinute = 100000
	cfg.TTS.InterCallDelayMS = 0
	cfg.Verification.Enabled = false

	st, err := store.Open(cfg.Store, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	seg, err := textseg.NewSegmenter(log)
	if err != nil {
		t.Fatalf("segmenter: %v", err)
	}

	registry := jobs.NewRegistry()
	p := pipeline.New(cfg, pipeline.Deps{
		Store:    st,
		Seg:      seg,
		Gateway:  tts.NewGateway(tts.NewMockSynthesizer(), cfg.TTS, log),
		Verifier: verify.NewVerifier(cfg.Verification, stt.NewMockTranscriber(), log),
		Asm:      audio.NewAssembler(cfg.Audio, log),
		Registry: registry,
	}, log)

	rt := &Runtime{cfg: cfg, logger: log, pipeline: p, registry: registry}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	rt.registerAPI(mux)
	return rt, mux
}

func TestHealthEndpoint(t *testing.T) {
	_, mux := newTestRuntime(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProcessChapterValidation(t *testing.T) {
	_, mux := newTestRuntime(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chapters/process",
		strings.NewReader(`{"text": ""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chapters/process",
		strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestProcessChapterAcceptsAndRuns(t *testing.T) {
	rt, mux := newTestRuntime(t)

	body := `{"source_file": "/books/api.txt", "chapter_number": 1, "chapter_title": "One",
		"text": "A short chapter for the api test. It has two sentences."}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chapters/process",
		strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job id in response")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		got, err := rt.registry.Get(job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.State == jobs.StateCompleted {
			break
		}
		if got.State == jobs.StateFailed {
			t.Fatalf("job failed: %s", got.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %+v", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestJobEndpoints(t *testing.T) {
	rt, mux := newTestRuntime(t)
	job := rt.registry.Create("process_chapter", "ch-1")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list jobs: %d", rec.Code)
	}
	var list []jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected job list: %v %s", err, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get job: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestChunkEndpointsUnknownChunk(t *testing.T) {
	_, mux := newTestRuntime(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chunks/nope/mark-reprocess", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("mark-reprocess: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/chunks/nope/params",
		strings.NewReader(`{"voice": "leah"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("params: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRestitchUnknownChapter(t *testing.T) {
	_, mux := newTestRuntime(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chapters/nope/restitch", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
