package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/versolabs/verso-core/internal/audio"
	"github.com/versolabs/verso-core/internal/bus"
	"github.com/versolabs/verso-core/internal/config"
	"github.com/versolabs/verso-core/internal/jobs"
	"github.com/versolabs/verso-core/internal/natsserver"
	"github.com/versolabs/verso-core/internal/pipeline"
	"github.com/versolabs/verso-core/internal/store"
	"github.com/versolabs/verso-core/internal/stt"
	"github.com/versolabs/verso-core/internal/textseg"
	"github.com/versolabs/verso-core/internal/tts"
	"github.com/versolabs/verso-core/internal/verify"
)

// Runtime wires the store, bus, synthesis stack, and pipeline together
// and serves the HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	store    *store.Store
	busSrv   *natsserver.EmbeddedServer
	busCli   *bus.Client
	backend  tts.Synthesizer
	recog    stt.Transcriber
	pipeline *pipeline.Pipeline
	registry *jobs.Registry

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is cancelled, then
// tears down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.buildComponents(ctx); err != nil {
		return err
	}
	defer r.teardown()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) buildComponents(ctx context.Context) error {
	st, err := store.Open(r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.store = st

	if r.cfg.Bus.Enabled {
		srv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.busSrv = srv

		cli, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("connect to bus: %w", err)
		}
		r.busCli = cli
	}

	backend, err := tts.NewBackend(r.cfg.TTS, r.logger)
	if err != nil {
		return fmt.Errorf("build tts backend: %w", err)
	}
	r.backend = backend
	gateway := tts.NewGateway(backend, r.cfg.TTS, r.logger)

	recog, err := stt.NewTranscriber(r.cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("build stt backend: %w", err)
	}
	r.recog = recog

	seg, err := textseg.NewSegmenter(r.logger)
	if err != nil {
		return fmt.Errorf("build segmenter: %w", err)
	}

	asm := audio.NewAssembler(r.cfg.Audio, r.logger)

	var trimmer *audio.GuardTrimmer
	if r.cfg.Audio.GuardPhrases {
		trimmer = audio.NewGuardTrimmer(ctx, asm, func(ctx context.Context, text string) ([]byte, error) {
			return gateway.Synthesize(ctx, tts.Request{Text: text})
		}, r.logger)
	}

	r.registry = jobs.NewRegistry()
	r.pipeline = pipeline.New(r.cfg, pipeline.Deps{
		Store:    r.store,
		Seg:      seg,
		Gateway:  gateway,
		Verifier: verify.NewVerifier(r.cfg.Verification, recog, r.logger),
		Asm:      asm,
		Trimmer:  trimmer,
		Bus:      r.busCli,
		Registry: r.registry,
	}, r.logger)

	return nil
}

func (r *Runtime) teardown() {
	if r.recog != nil {
		r.recog.Close()
	}
	if r.backend != nil {
		r.backend.Close()
	}
	if r.busCli != nil {
		r.busCli.Close()
	}
	if r.busSrv != nil {
		r.busSrv.Shutdown()
	}
	if r.store != nil {
		r.store.Close()
	}
}

// Pipeline exposes the composed pipeline for embedding callers.
func (r *Runtime) Pipeline() *pipeline.Pipeline {
	return r.pipeline
}

func (r *Runtime) Healthy() bool {
	if r.cfg.Bus.Enabled && !r.busCli.Healthy() {
		return false
	}
	return r.ready.Load()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
