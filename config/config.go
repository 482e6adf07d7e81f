// Package config builds the run configuration for chainlink.
//
// Values are layered: Default, then an optional YAML file, then CHAINLINK_*
// environment variables (a .env file is honored), then explicitly set
// command-line flags. The result is validated once and treated as read-only.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/synth"
)

// Chunk size bounds in milliseconds, inclusive.
const (
	MinChunkMs = 10
	MaxChunkMs = 1000
)

// DefaultParallelWorkers is used when parallelism is on without a core count.
const DefaultParallelWorkers = 2

var (
	ErrChunkSizeRange = errors.New("chunk size must be between 10 and 1000 (milliseconds)")
	ErrMissingDir     = errors.New("directory does not exist")
	ErrNoWAV          = errors.New("no wavs in directory")
	ErrInvalidWorkers = errors.New("invalid core count")
	ErrMissingOption  = errors.New("missing mandatory option")
)

// Config is the complete run configuration.
type Config struct {
	TargetDir   string        `yaml:"input1"` // recordings to recreate
	CorpusDir   string        `yaml:"input2"` // donor "chain links"
	OutputDir   string        `yaml:"output"`
	ChunkMs     int           `yaml:"chunk_size"`
	Verbose     bool          `yaml:"verbose"`
	Parallel    bool          `yaml:"multiprocessing"`
	Cores       string        `yaml:"cores"` // integer >= 1 or "auto"; empty means default
	Features    string        `yaml:"features"`
	Index       string        `yaml:"index"`
	CrossfadeMs float64       `yaml:"crossfade_ms"`
	TaskTimeout time.Duration `yaml:"timeout"`
	WeightsFile string        `yaml:"weights"`
	MetricsFile string        `yaml:"metrics_file"`
	Progress    bool          `yaml:"progress"`
}

// Default returns the built-in configuration. Directories and chunk size
// have no defaults.
func Default() Config {
	return Config{
		Features:    synth.FeaturesSpectral,
		Index:       string(synth.IndexKDTree),
		CrossfadeMs: float64(synth.DefaultCrossfade) / float64(time.Millisecond),
	}
}

// LoadFile overlays the YAML file at path onto base. Keys missing from the
// file keep base's values.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Environment variables read by FromEnv.
const (
	EnvTargetDir   = "CHAINLINK_INPUT1"
	EnvCorpusDir   = "CHAINLINK_INPUT2"
	EnvOutputDir   = "CHAINLINK_OUTPUT"
	EnvChunkMs     = "CHAINLINK_CHUNK_SIZE"
	EnvCores       = "CHAINLINK_CORES"
	EnvFeatures    = "CHAINLINK_FEATURES"
	EnvIndex       = "CHAINLINK_INDEX"
	EnvCrossfadeMs = "CHAINLINK_CROSSFADE_MS"
	EnvTimeout     = "CHAINLINK_TIMEOUT"
	EnvWeights     = "CHAINLINK_WEIGHTS"
	EnvMetricsFile = "CHAINLINK_METRICS_FILE"
)

// FromEnv loads the given .env files (".env" when none are named; missing
// files are ignored) and overlays CHAINLINK_* variables onto base.
// Unparseable numbers keep the base value.
func FromEnv(base Config, dotenv ...string) Config {
	_ = godotenv.Load(dotenv...)

	cfg := base
	cfg.TargetDir = envStr(EnvTargetDir, cfg.TargetDir)
	cfg.CorpusDir = envStr(EnvCorpusDir, cfg.CorpusDir)
	cfg.OutputDir = envStr(EnvOutputDir, cfg.OutputDir)
	cfg.ChunkMs = envInt(EnvChunkMs, cfg.ChunkMs)
	cfg.Cores = envStr(EnvCores, cfg.Cores)
	cfg.Features = envStr(EnvFeatures, cfg.Features)
	cfg.Index = envStr(EnvIndex, cfg.Index)
	cfg.CrossfadeMs = envFloat(EnvCrossfadeMs, cfg.CrossfadeMs)
	cfg.TaskTimeout = envDuration(EnvTimeout, cfg.TaskTimeout)
	cfg.WeightsFile = envStr(EnvWeights, cfg.WeightsFile)
	cfg.MetricsFile = envStr(EnvMetricsFile, cfg.MetricsFile)
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// ParseWorkers parses a core count: an integer >= 1, or "auto" which
// returns 0.
func ParseWorkers(raw string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return 0, fmt.Errorf("%w: empty value (use integer >= 1 or 'auto')", ErrInvalidWorkers)
	}
	if v == "auto" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q (use integer >= 1 or 'auto')", ErrInvalidWorkers, raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d (must be >= 1 or 'auto')", ErrInvalidWorkers, n)
	}
	return n, nil
}

// Workers returns the worker count: 1 without parallelism, the core count
// when given ("auto" is the CPU count), otherwise DefaultParallelWorkers.
func (c Config) Workers() int {
	if !c.Parallel {
		return 1
	}
	if strings.TrimSpace(c.Cores) == "" {
		return DefaultParallelWorkers
	}
	n, err := ParseWorkers(c.Cores)
	if err != nil {
		return DefaultParallelWorkers
	}
	if n == 0 {
		return runtime.NumCPU()
	}
	return n
}

// Crossfade returns the boundary blend length.
func (c Config) Crossfade() time.Duration {
	return time.Duration(c.CrossfadeMs * float64(time.Millisecond))
}

// Validate checks every option without touching the filesystem and reports
// all problems at once.
func (c Config) Validate() error {
	var errs []error
	for _, opt := range []struct{ name, value string }{
		{"--input1", c.TargetDir},
		{"--input2", c.CorpusDir},
		{"--output", c.OutputDir},
	} {
		if strings.TrimSpace(opt.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingOption, opt.name))
		}
	}
	if c.ChunkMs < MinChunkMs || c.ChunkMs > MaxChunkMs {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrChunkSizeRange, c.ChunkMs))
	}
	if strings.TrimSpace(c.Cores) != "" {
		if _, err := ParseWorkers(c.Cores); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := synth.NewExtractor(c.Features); err != nil {
		errs = append(errs, err)
	}
	if _, err := synth.ParseIndexKind(c.Index); err != nil {
		errs = append(errs, err)
	}
	if c.CrossfadeMs < 0 {
		errs = append(errs, fmt.Errorf("crossfade must be >= 0 ms, got %g", c.CrossfadeMs))
	}
	if c.TaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be >= 0, got %s", c.TaskTimeout))
	}
	return errors.Join(errs...)
}

// Prepare runs the filesystem pre-flight: both input directories must exist
// and hold at least one wav, and the output directory is created if needed.
// All problems are reported together.
func (c Config) Prepare() error {
	var errs []error
	for _, in := range []struct{ label, dir string }{
		{"input directory 1", c.TargetDir},
		{"input directory 2", c.CorpusDir},
	} {
		info, err := os.Stat(in.dir)
		if err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("%s %q: %w", in.label, in.dir, ErrMissingDir))
			continue
		}
		ok, err := audio.HasWAV(in.dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in.label, err))
			continue
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%s %q: %w", in.label, in.dir, ErrNoWAV))
		}
	}
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		errs = append(errs, fmt.Errorf("cannot create output directory: %w", err))
	}
	return errors.Join(errs...)
}
