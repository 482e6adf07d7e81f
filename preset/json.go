package preset

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/algo-chainlink/synth"
)

// File is the JSON schema for descriptor-weight presets.
type File struct {
	Features     string             `json:"features"`
	Weights      []float64          `json:"weights"`
	PerDimension map[string]float64 `json:"per_dimension"`
	CrossfadeMs  *float64           `json:"crossfade_ms"`
	ChunkMs      *int               `json:"chunk_size"`
}

// Params is a resolved preset.
type Params struct {
	Features    string
	Weights     synth.Weights
	CrossfadeMs float64
	ChunkMs     int // 0 leaves the run's chunk size alone
}

// dimensionNames maps extractor names to their descriptor dimension names.
var dimensionNames = map[string][]string{
	synth.FeaturesSpectral: {
		"level", "zcr", "centroid",
		"band_20_100", "band_100_300", "band_300_1k", "band_1k_3k",
		"band_3k_6k", "band_6k_12k", "band_12k_20k",
	},
	synth.FeaturesEnergy: {
		"level", "peak", "crest", "zcr",
		"segment_1", "segment_2", "segment_3", "segment_4",
	},
}

// DimensionNames returns the descriptor dimension names of an extractor.
func DimensionNames(features string) []string {
	return dimensionNames[normalizeFeatures(features)]
}

// NewDefaultParams returns unit weights for the named extractor.
func NewDefaultParams(features string) (*Params, error) {
	features = normalizeFeatures(features)
	ex, err := synth.NewExtractor(features)
	if err != nil {
		return nil, err
	}
	return &Params{
		Features:    features,
		Weights:     synth.UnitWeights(ex.Dim()),
		CrossfadeMs: float64(synth.DefaultCrossfade) / float64(time.Millisecond),
	}, nil
}

// Extractor returns the weighted extractor described by p.
func (p *Params) Extractor() (synth.Extractor, error) {
	ex, err := synth.NewExtractor(p.Features)
	if err != nil {
		return nil, err
	}
	return synth.NewWeighted(ex, p.Weights)
}

// Crossfade returns the blend length.
func (p *Params) Crossfade() time.Duration {
	return time.Duration(p.CrossfadeMs * float64(time.Millisecond))
}

// LoadJSON loads a preset JSON file and applies it on top of default params
// for the file's extractor.
func LoadJSON(path string) (*Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	p, err := NewDefaultParams(f.Features)
	if err != nil {
		return nil, err
	}
	if err := ApplyFile(p, &f); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyFile applies a parsed preset file onto existing params. The full
// weights vector is applied before per-dimension overrides.
func ApplyFile(dst *Params, f *File) error {
	if dst == nil {
		return fmt.Errorf("nil destination params")
	}
	if f == nil {
		return nil
	}
	if f.Features != "" && normalizeFeatures(f.Features) != dst.Features {
		return fmt.Errorf("preset is for %q features, params are %q", f.Features, dst.Features)
	}

	if f.Weights != nil {
		if len(f.Weights) != len(dst.Weights) {
			return fmt.Errorf("weights has %d entries, %s descriptors have %d", len(f.Weights), dst.Features, len(dst.Weights))
		}
		for i, w := range f.Weights {
			if err := checkWeight(w); err != nil {
				return fmt.Errorf("weights[%d] %w", i, err)
			}
		}
		dst.Weights = append(synth.Weights(nil), f.Weights...)
	}
	if f.CrossfadeMs != nil {
		if *f.CrossfadeMs < 0 {
			return fmt.Errorf("crossfade_ms must be >= 0")
		}
		dst.CrossfadeMs = *f.CrossfadeMs
	}
	if f.ChunkMs != nil {
		if *f.ChunkMs < 10 || *f.ChunkMs > 1000 {
			return fmt.Errorf("chunk_size must be in [10,1000]")
		}
		dst.ChunkMs = *f.ChunkMs
	}

	if len(f.PerDimension) == 0 {
		return nil
	}
	names := DimensionNames(dst.Features)
	keys := make([]string, 0, len(f.PerDimension))
	for k := range f.PerDimension {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		i, err := dimensionIndex(names, k, len(dst.Weights))
		if err != nil {
			return err
		}
		w := f.PerDimension[k]
		if err := checkWeight(w); err != nil {
			return fmt.Errorf("per_dimension[%s] %w", k, err)
		}
		dst.Weights[i] = w
	}
	return nil
}

// WriteJSON stores p as a preset file with named per-dimension weights.
func WriteJSON(path string, p *Params) error {
	crossfade := p.CrossfadeMs
	f := File{
		Features:    p.Features,
		Weights:     p.Weights,
		CrossfadeMs: &crossfade,
	}
	if p.ChunkMs > 0 {
		chunk := p.ChunkMs
		f.ChunkMs = &chunk
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func dimensionIndex(names []string, key string, dim int) (int, error) {
	for i, n := range names {
		if n == key {
			return i, nil
		}
	}
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= dim {
		return 0, fmt.Errorf("invalid per_dimension key %q (expected a dimension name or 0..%d)", key, dim-1)
	}
	return i, nil
}

func checkWeight(w float64) error {
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("must be finite and >= 0")
	}
	return nil
}

func normalizeFeatures(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return synth.FeaturesSpectral
	}
	return s
}
