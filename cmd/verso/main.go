package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

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

const usage = `verso - narration pipeline operator tool

Usage:
  verso [-config verso.yaml] <command> [flags]

Commands:
  process          Narrate a text file chapter by chapter
  reprocess        Resynthesize one chunk with the stretched deadline
  mark-reprocess   Flag a chunk for the next batch reprocess run
  batch-reprocess  Rerun every failed, flagged, or low-scoring chunk
  restitch         Rebuild a chapter file from stored chunk audio
  insert           Add pending narration text into a chapter
  chunk-params     Set per-chunk voice, temperature, and speed overrides
  summary          Print a chapter's chunk roll-up
  words            Print the chapter-wide word timing map
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "verso.yaml", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		fatal("initialize pipeline: %v", err)
	}
	defer cleanup()

	switch args[0] {
	case "process":
		err = runProcess(ctx, p, cfg, args[1:])
	case "reprocess":
		err = runReprocess(ctx, p, args[1:])
	case "mark-reprocess":
		err = runMarkReprocess(p, args[1:])
	case "batch-reprocess":
		err = runBatchReprocess(ctx, p, args[1:])
	case "restitch":
		err = runRestitch(ctx, p, args[1:])
	case "insert":
		err = runInsert(ctx, p, args[1:])
	case "chunk-params":
		err = runChunkParams(p, args[1:])
	case "summary":
		err = runSummary(p, args[1:])
	case "words":
		err = runWords(p, args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal("%v", err)
	}
}

// loadConfig tolerates a missing default config file; explicit paths
// must exist.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "verso.yaml" {
		return config.Load("")
	}
	return config.Load(path)
}

func buildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}

	backend, err := tts.NewBackend(cfg.TTS, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	gateway := tts.NewGateway(backend, cfg.TTS, logger)

	recog, err := stt.NewTranscriber(cfg.STT, logger)
	if err != nil {
		backend.Close()
		st.Close()
		return nil, nil, err
	}

	seg, err := textseg.NewSegmenter(logger)
	if err != nil {
		recog.Close()
		backend.Close()
		st.Close()
		return nil, nil, err
	}

	asm := audio.NewAssembler(cfg.Audio, logger)

	var trimmer *audio.GuardTrimmer
	if cfg.Audio.GuardPhrases {
		trimmer = audio.NewGuardTrimmer(ctx, asm, func(ctx context.Context, text string) ([]byte, error) {
			return gateway.Synthesize(ctx, tts.Request{Text: text})
		}, logger)
	}

	p := pipeline.New(cfg, pipeline.Deps{
		Store:    st,
		Seg:      seg,
		Gateway:  gateway,
		Verifier: verify.NewVerifier(cfg.Verification, recog, logger),
		Asm:      asm,
		Trimmer:  trimmer,
		Registry: jobs.NewRegistry(),
	}, logger)

	cleanup := func() {
		recog.Close()
		backend.Close()
		st.Close()
	}
	return p, cleanup, nil
}

func runProcess(ctx context.Context, p *pipeline.Pipeline, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	file := fs.String("file", "", "Text file to narrate")
	title := fs.String("title", "", "Project title (defaults to the file name)")
	chapter := fs.Int("chapter", 0, "Process only this chapter number (0 = all detected)")
	voice := fs.String("voice", "", "Voice override for this run")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read input file: %w", err)
	}

	chapters := textseg.DetectChapters(string(data))
	if len(chapters) == 0 {
		chapters = []textseg.Chapter{{Number: 1, Title: "", Content: string(data)}}
	}

	for _, ch := range chapters {
		if *chapter != 0 && ch.Number != *chapter {
			continue
		}
		fmt.Printf("processing chapter %d %q (%d words)\n", ch.Number, ch.Title, ch.WordCount)
		report, err := p.ProcessChapter(ctx, pipeline.ProcessRequest{
			SourceFile:    *file,
			ProjectTitle:  *title,
			ChapterNumber: ch.Number,
			ChapterTitle:  ch.Title,
			Text:          ch.Content,
			Voice:         *voice,
		})
		if err != nil {
			return fmt.Errorf("chapter %d: %w", ch.Number, err)
		}
		printJSON(report)
	}
	return nil
}

func runReprocess(ctx context.Context, p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	chunkID := fs.String("chunk", "", "Chunk ID to resynthesize")
	fs.Parse(args)
	if *chunkID == "" {
		return fmt.Errorf("-chunk is required")
	}
	version, err := p.ReprocessChunk(ctx, *chunkID)
	if err != nil {
		return err
	}
	printJSON(version)
	return nil
}

func runMarkReprocess(p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("mark-reprocess", flag.ExitOnError)
	chunkID := fs.String("chunk", "", "Chunk ID to flag")
	fs.Parse(args)
	if *chunkID == "" {
		return fmt.Errorf("-chunk is required")
	}
	chunk, err := p.MarkChunkForReprocess(*chunkID)
	if err != nil {
		return err
	}
	printJSON(chunk)
	return nil
}

func runBatchReprocess(ctx context.Context, p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("batch-reprocess", flag.ExitOnError)
	chapterID := fs.String("chapter", "", "Chapter ID")
	fs.Parse(args)
	if *chapterID == "" {
		return fmt.Errorf("-chapter is required")
	}
	recovered, err := p.BatchReprocess(ctx, *chapterID)
	if err != nil {
		return err
	}
	fmt.Printf("recovered %d chunks\n", recovered)
	return nil
}

func runRestitch(ctx context.Context, p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("restitch", flag.ExitOnError)
	chapterID := fs.String("chapter", "", "Chapter ID")
	exclude := fs.String("exclude", "", "Comma-separated chunk numbers to leave out")
	fs.Parse(args)
	if *chapterID == "" {
		return fmt.Errorf("-chapter is required")
	}

	var excluded []int
	if *exclude != "" {
		for _, part := range strings.Split(*exclude, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("invalid chunk number %q", part)
			}
			excluded = append(excluded, n)
		}
	}

	version, err := p.Restitch(ctx, *chapterID, excluded)
	if err != nil {
		return err
	}
	printJSON(version)
	return nil
}

func runInsert(ctx context.Context, p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	chapterID := fs.String("chapter", "", "Chapter ID")
	number := fs.Int("number", 0, "Slot for the new chunk")
	text := fs.String("text", "", "Narration text to insert")
	fs.Parse(args)
	if *chapterID == "" || *number <= 0 || *text == "" {
		return fmt.Errorf("-chapter, -number, and -text are required")
	}
	chunk, err := p.InsertChunk(ctx, *chapterID, *number, *text)
	if err != nil {
		return err
	}
	fmt.Printf("chunk %s inserted as pending; run reprocess then restitch to hear it\n", chunk.ID)
	printJSON(chunk)
	return nil
}

func runChunkParams(p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("chunk-params", flag.ExitOnError)
	chunkID := fs.String("chunk", "", "Chunk ID")
	voice := fs.String("voice", "", "Voice override (empty uses chapter settings)")
	temperature := fs.Float64("temperature", 0, "Temperature override (0 uses chapter settings)")
	speed := fs.Float64("speed", 0, "Speed override (0 uses chapter settings)")
	fs.Parse(args)
	if *chunkID == "" {
		return fmt.Errorf("-chunk is required")
	}
	chunk, err := p.SetChunkParams(*chunkID, *voice, *temperature, *speed)
	if err != nil {
		return err
	}
	printJSON(chunk)
	return nil
}

func runSummary(p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	chapterID := fs.String("chapter", "", "Chapter ID")
	fs.Parse(args)
	if *chapterID == "" {
		return fmt.Errorf("-chapter is required")
	}
	summary, err := p.Summary(*chapterID)
	if err != nil {
		return err
	}
	printJSON(summary)
	return nil
}

func runWords(p *pipeline.Pipeline, args []string) error {
	fs := flag.NewFlagSet("words", flag.ExitOnError)
	chapterID := fs.String("chapter", "", "Chapter ID")
	fs.Parse(args)
	if *chapterID == "" {
		return fmt.Errorf("-chapter is required")
	}
	words, err := p.WordMap(*chapterID)
	if err != nil {
		return err
	}
	printJSON(words)
	return nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "verso: "+format+"\n", args...)
	os.Exit(1)
}
