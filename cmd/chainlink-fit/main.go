package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/config"
	"github.com/cwbudde/algo-chainlink/preset"
	"github.com/cwbudde/algo-chainlink/synth"
)

func main() {
	targetDir := flag.String("input1", "", "Directory with target wavs to fit against")
	corpusDir := flag.String("input2", "", "Directory with donor wavs")
	chunkMs := flag.Int("chunk_size", 100, "Chunk size in milliseconds")
	features := flag.String("features", synth.FeaturesSpectral, "Descriptor extractor: spectral|energy")
	indexKind := flag.String("index", string(synth.IndexKDTree), "Corpus index: kdtree|linear")
	presetPath := flag.String("preset", "", "Base weight preset JSON (default: unit weights)")
	outputPreset := flag.String("output-preset", "weights/fitted.json", "Path to write the fitted weight preset")
	reportPath := flag.String("report", "", "Optional report JSON path (default: <output-preset>.report.json)")
	optimize := flag.String("optimize", "weights,crossfade", "Comma-separated knob groups to optimize: weights, crossfade")
	minWeight := flag.Float64("min-weight", 0.05, "Lower bound for each descriptor weight")
	maxWeight := flag.Float64("max-weight", 20, "Upper bound for each descriptor weight")
	maxTargets := flag.Int("max-targets", 4, "Fit against at most this many targets (0 uses all)")
	seed := flag.Int64("seed", 1, "Random seed")
	timeBudget := flag.Duration("time-budget", 2*time.Minute, "Optimization time budget")
	maxEvals := flag.Int("max-evals", 2000, "Maximum objective evaluations")
	reportEvery := flag.Int("report-every", 20, "Print progress every N evaluations")
	checkpointEvery := flag.Int("checkpoint-every", 1, "Write checkpoint every N best-score improvements")
	topK := flag.Int("top-k", 5, "How many top candidates to keep in report")
	resume := flag.Bool("resume", true, "Resume from previous best_knobs report when available")
	workers := flag.String("workers", "1", "Parallel optimization workers running independent Mayfly rounds (number or 'auto')")

	mayflyVariant := flag.String("mayfly-variant", "desma", "Mayfly variant: ma|desma|olce|eobbma|gsasma|mpma|aoblmoa")
	mayflyPop := flag.Int("mayfly-pop", 10, "Male and female population size per Mayfly run")
	mayflyRoundEvals := flag.Int("mayfly-round-evals", 240, "Target eval budget per Mayfly round")
	flag.Parse()

	groups, err := parseOptimizeGroups(*optimize)
	if err != nil {
		die("invalid --optimize: %v", err)
	}
	if *targetDir == "" || *corpusDir == "" {
		die("--input1 and --input2 are required")
	}
	if *chunkMs < config.MinChunkMs || *chunkMs > config.MaxChunkMs {
		die("%v: got %d", config.ErrChunkSizeRange, *chunkMs)
	}
	if *outputPreset == "" {
		die("output-preset must not be empty")
	}
	if *maxEvals < 1 {
		die("max-evals must be >= 1")
	}
	if *timeBudget <= 0 {
		die("time-budget must be > 0")
	}
	if *minWeight <= 0 || *maxWeight < *minWeight {
		die("weight bounds must satisfy 0 < min-weight <= max-weight")
	}
	*reportEvery = max(*reportEvery, 1)
	*checkpointEvery = max(*checkpointEvery, 1)
	*mayflyPop = max(*mayflyPop, 2)
	*mayflyRoundEvals = max(*mayflyRoundEvals, *mayflyPop*2)
	*topK = max(*topK, 1)
	parsedWorkers, err := config.ParseWorkers(*workers)
	if err != nil {
		die("invalid workers value: %v", err)
	}
	kind, err := synth.ParseIndexKind(*indexKind)
	if err != nil {
		die("invalid --index: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	base, err := loadBase(*presetPath, *features)
	if err != nil {
		die("failed to load preset: %v", err)
	}
	problem, err := loadProblem(ctx, *targetDir, *corpusDir, *chunkMs, base.Features, kind, *maxTargets, logger)
	if err != nil {
		die("failed to prepare fit: %v", err)
	}
	fmt.Printf("Fitting %d targets against %d donor chunks\n", len(problem.targets), len(problem.corpus.Entries))

	defs, initCand := initCandidate(base, groups, *minWeight, *maxWeight)
	outputs := outputPaths{
		preset:     *outputPreset,
		report:     *reportPath,
		targetDir:  *targetDir,
		corpusDir:  *corpusDir,
		basePreset: *presetPath,
	}
	if *resume {
		resumePath := outputs.reportPath()
		if resumed, ok, err := loadCandidateFromReport(resumePath, defs, initCand); err != nil {
			fmt.Fprintf(os.Stderr, "resume skipped (%s): %v\n", resumePath, err)
		} else if ok {
			initCand = resumed
			fmt.Printf("Resumed candidate from %s\n", resumePath)
		}
	}

	cfg := &optimizationConfig{
		problem:          problem,
		base:             base,
		defs:             defs,
		initCandidate:    initCand,
		seed:             *seed,
		timeBudget:       *timeBudget,
		maxEvals:         *maxEvals,
		reportEvery:      *reportEvery,
		checkpointEvery:  *checkpointEvery,
		mayflyVariant:    *mayflyVariant,
		mayflyPop:        *mayflyPop,
		mayflyRoundEvals: *mayflyRoundEvals,
		workers:          parsedWorkers,
		topK:             *topK,
		outputs:          outputs,
		out:              os.Stdout,
	}

	result, err := runOptimization(ctx, cfg)
	if result == nil {
		die("optimization failed: %v", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "interrupted: %v; writing best candidate so far\n", err)
	}

	variant := strings.ToLower(*mayflyVariant)
	if err := writeOutputs(cfg, variant, checkpoint{
		best:        result.best,
		metrics:     result.bestMetrics,
		top:         result.top,
		evals:       result.evals,
		elapsed:     result.elapsed,
		checkpoints: result.checkpoints,
	}); err != nil {
		die("failed to write outputs: %v", err)
	}

	fmt.Printf("Done evals=%d elapsed=%.1fs best_score=%.4f best_similarity=%.2f%% variant=%s\n", result.evals, result.elapsed.Seconds(), result.bestMetrics.Score, result.bestMetrics.Similarity*100.0, variant)
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
}

// loadBase returns the starting preset: a file when given, otherwise unit
// weights for the extractor.
func loadBase(path, features string) (*preset.Params, error) {
	if path != "" {
		return preset.LoadJSON(path)
	}
	return preset.NewDefaultParams(features)
}

// loadProblem decodes the fitting targets and describes the corpus with the
// unweighted extractor.
func loadProblem(
	ctx context.Context,
	targetDir string,
	corpusDir string,
	chunkMs int,
	features string,
	kind synth.IndexKind,
	maxTargets int,
	logger *slog.Logger,
) (*fitProblem, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ex, err := synth.NewExtractor(features)
	if err != nil {
		return nil, err
	}
	paths, err := audio.ListWAVs(targetDir)
	if err != nil {
		return nil, err
	}
	var targets []*audio.Buffer
	for _, path := range paths {
		if maxTargets > 0 && len(targets) >= maxTargets {
			break
		}
		buf, err := audio.ReadWAV(path)
		if err != nil {
			logger.Warn("skipping target", slog.String("file", filepath.Base(path)), slog.String("error", err.Error()))
			continue
		}
		if synth.FramesForDuration(buf.SampleRate, chunkMs) > buf.Frames() {
			logger.Warn("skipping target shorter than one chunk", slog.String("file", buf.Name))
			continue
		}
		targets = append(targets, buf)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no usable targets in %s", targetDir)
	}

	donors, err := audio.ListWAVs(corpusDir)
	if err != nil {
		return nil, err
	}
	corpus, err := synth.LoadCorpus(ctx, donors, synth.CorpusOptions{ChunkMs: chunkMs, Extractor: ex, Workers: 2, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &fitProblem{targets: targets, corpus: corpus, kind: kind, chunkMs: chunkMs}, nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
