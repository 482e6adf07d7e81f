package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/batch"
	"github.com/cwbudde/algo-chainlink/config"
	"github.com/cwbudde/algo-chainlink/preset"
	"github.com/cwbudde/algo-chainlink/synth"
)

const longHelp = `Recreate every wav in --input1 with concatenative synthesis: each target
is cut into chunks of --chunk_size milliseconds and every chunk is replaced
by the most similar chunk found among the wavs in --input2. Results are
written to --output under the target's file name.

Every target and donor must hold at least one full chunk. A recording
shorter than --chunk_size is not skipped: it aborts the whole run.

Options can also come from a YAML file (--config) or CHAINLINK_* environment
variables; flags given on the command line win.`

type flagValues struct {
	configFile string
	cfg        config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var fv flagValues
	cmd := &cobra.Command{
		Use:           "chainlink --input1 DIR --input2 DIR --output DIR --chunk_size MS [-v] [-m] [-c CORES]",
		Short:         "Rebuild recordings from chunks of other recordings",
		Long:          longHelp,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Flags(), fv)
			if err != nil {
				return err
			}
			if err := preflight(cfg); err != nil {
				fmt.Fprintf(stderr, "Errors detected with options:\n%v\n\n%s", err, cmd.UsageString())
				return err
			}
			return run(cmd, cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.SortFlags = false
	f.StringVar(&fv.cfg.TargetDir, "input1", "", "Directory containing wav files to recreate")
	f.StringVar(&fv.cfg.CorpusDir, "input2", "", "Directory containing the donor wavs (the chain links)")
	f.StringVar(&fv.cfg.OutputDir, "output", "", "Directory for the synthesized wavs (created if missing)")
	f.IntVar(&fv.cfg.ChunkMs, "chunk_size", 0, "Chunk size in milliseconds, 10 to 1000; any target or donor shorter than one chunk aborts the run")
	f.BoolVarP(&fv.cfg.Verbose, "verbose", "v", false, "Log progress details")
	f.BoolVarP(&fv.cfg.Parallel, "multiprocessing", "m", false, "Process recordings in parallel")
	f.StringVarP(&fv.cfg.Cores, "cores", "c", "", "Worker count with -m: integer >= 1 or 'auto' (default 2)")
	f.StringVar(&fv.configFile, "config", "", "YAML config file")
	f.StringVar(&fv.cfg.Features, "features", synth.FeaturesSpectral, "Descriptor extractor: spectral|energy")
	f.StringVar(&fv.cfg.Index, "index", string(synth.IndexKDTree), "Corpus index: kdtree|linear")
	f.Float64Var(&fv.cfg.CrossfadeMs, "crossfade-ms", config.Default().CrossfadeMs, "Crossfade at chunk boundaries in ms (0 disables)")
	f.DurationVar(&fv.cfg.TaskTimeout, "timeout", 0, "Per-recording timeout (0 disables)")
	f.StringVar(&fv.cfg.WeightsFile, "weights", "", "Descriptor weight preset JSON (from chainlink-fit)")
	f.StringVar(&fv.cfg.MetricsFile, "metrics-file", "", "Write Prometheus textfile metrics here after the run")
	f.BoolVar(&fv.cfg.Progress, "progress", false, "Show a progress bar on stderr")
	return cmd
}

// resolveConfig layers defaults, the optional YAML file, the environment and
// the flags that were set explicitly.
func resolveConfig(flags *pflag.FlagSet, fv flagValues) (config.Config, error) {
	cfg := config.Default()
	if fv.configFile != "" {
		var err error
		cfg, err = config.LoadFile(cfg, fv.configFile)
		if err != nil {
			return cfg, err
		}
	}
	cfg = config.FromEnv(cfg)

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("input1", func() { cfg.TargetDir = fv.cfg.TargetDir })
	set("input2", func() { cfg.CorpusDir = fv.cfg.CorpusDir })
	set("output", func() { cfg.OutputDir = fv.cfg.OutputDir })
	set("chunk_size", func() { cfg.ChunkMs = fv.cfg.ChunkMs })
	set("verbose", func() { cfg.Verbose = fv.cfg.Verbose })
	set("multiprocessing", func() { cfg.Parallel = fv.cfg.Parallel })
	set("cores", func() { cfg.Cores = fv.cfg.Cores })
	set("features", func() { cfg.Features = fv.cfg.Features })
	set("index", func() { cfg.Index = fv.cfg.Index })
	set("crossfade-ms", func() { cfg.CrossfadeMs = fv.cfg.CrossfadeMs })
	set("timeout", func() { cfg.TaskTimeout = fv.cfg.TaskTimeout })
	set("weights", func() { cfg.WeightsFile = fv.cfg.WeightsFile })
	set("metrics-file", func() { cfg.MetricsFile = fv.cfg.MetricsFile })
	set("progress", func() { cfg.Progress = fv.cfg.Progress })
	return cfg, nil
}

// preflight validates options and the filesystem before any audio work.
func preflight(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.Prepare()
}

func run(cmd *cobra.Command, cfg config.Config, stdout, stderr io.Writer) error {
	ctx := cmd.Context()
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	extractor, crossfade, err := buildExtractor(cmd.Flags(), cfg, logger)
	if err != nil {
		return err
	}
	kind, err := synth.ParseIndexKind(cfg.Index)
	if err != nil {
		return err
	}

	donors, err := audio.ListWAVs(cfg.CorpusDir)
	if err != nil {
		return err
	}
	targets, err := audio.ListWAVs(cfg.TargetDir)
	if err != nil {
		return err
	}
	workers := cfg.Workers()
	logger.Info("starting run",
		slog.Int("targets", len(targets)),
		slog.Int("donors", len(donors)),
		slog.Int("chunk_ms", cfg.ChunkMs),
		slog.Int("workers", workers),
		slog.String("index", string(kind)),
	)

	corpus, err := synth.LoadCorpus(ctx, donors, synth.CorpusOptions{
		ChunkMs:   cfg.ChunkMs,
		Extractor: extractor,
		Workers:   workers,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building corpus: %w", err)
	}
	index, err := corpus.Index(kind)
	if err != nil {
		return err
	}
	logger.Info("corpus indexed", slog.Int("chunks", index.Len()), slog.Int("skipped_donors", len(corpus.Skipped)))

	metrics := batch.NewMetrics()
	metrics.SetCorpusSize(index.Len())

	opts := batch.Options{
		Workers:     workers,
		TaskTimeout: cfg.TaskTimeout,
		OutputDir:   cfg.OutputDir,
		Logger:      logger,
		Metrics:     metrics,
	}
	if cfg.Progress {
		opts.Progress = stderr
	}
	s := &synth.Synthesizer{
		ChunkMs:   cfg.ChunkMs,
		Matcher:   synth.NewMatcher(extractor, index),
		Assembler: synth.NewAssembler(crossfade),
	}
	summary, runErr := batch.NewDispatcher(s, opts).Run(ctx, targets)
	if summary != nil {
		fmt.Fprint(stdout, summary.Report())
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("writing metrics failed", slog.String("error", err.Error()))
		}
	}
	return runErr
}

// buildExtractor applies the optional weight preset. A preset's crossfade is
// used unless --crossfade-ms was given.
func buildExtractor(flags *pflag.FlagSet, cfg config.Config, logger *slog.Logger) (synth.Extractor, time.Duration, error) {
	if cfg.WeightsFile == "" {
		ex, err := synth.NewExtractor(cfg.Features)
		return ex, cfg.Crossfade(), err
	}
	p, err := preset.LoadJSON(cfg.WeightsFile)
	if err != nil {
		return nil, 0, fmt.Errorf("loading weights: %w", err)
	}
	if !strings.EqualFold(p.Features, cfg.Features) {
		logger.Warn("weights preset overrides feature extractor",
			slog.String("preset", p.Features), slog.String("configured", cfg.Features))
	}
	if p.ChunkMs > 0 && p.ChunkMs != cfg.ChunkMs {
		logger.Warn("weights were tuned for a different chunk size",
			slog.Int("preset_chunk_ms", p.ChunkMs), slog.Int("chunk_ms", cfg.ChunkMs))
	}
	ex, err := p.Extractor()
	if err != nil {
		return nil, 0, err
	}
	crossfade := p.Crossfade()
	if flags.Changed("crossfade-ms") {
		crossfade = cfg.Crossfade()
	}
	return ex, crossfade, nil
}
