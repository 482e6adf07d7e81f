package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/algo-chainlink/analysis"
	"github.com/cwbudde/algo-chainlink/preset"
)

type outputPaths struct {
	preset     string
	report     string
	targetDir  string
	corpusDir  string
	basePreset string
}

// reportPath defaults to <preset>.report.json.
func (o outputPaths) reportPath() string {
	if o.report != "" {
		return o.report
	}
	return o.preset + ".report.json"
}

// checkpoint is a consistent snapshot of the search written to disk.
type checkpoint struct {
	best        candidate
	metrics     analysis.Metrics
	top         []topCandidate
	evals       int
	elapsed     time.Duration
	checkpoints int
}

type runReport struct {
	TargetDir       string             `json:"target_dir"`
	CorpusDir       string             `json:"corpus_dir"`
	BasePreset      string             `json:"base_preset,omitempty"`
	OutputPreset    string             `json:"output_preset"`
	Features        string             `json:"features"`
	Index           string             `json:"index"`
	ChunkMs         int                `json:"chunk_size"`
	Targets         int                `json:"targets"`
	CorpusChunks    int                `json:"corpus_chunks"`
	DurationSec     float64            `json:"elapsed_seconds"`
	Evaluations     int                `json:"evaluations"`
	MayflyVariant   string             `json:"mayfly_variant"`
	BestScore       float64            `json:"best_score"`
	BestSimilarity  float64            `json:"best_similarity"`
	BestMetrics     analysis.Metrics   `json:"best_metrics"`
	BestKnobs       map[string]float64 `json:"best_knobs"`
	CheckpointCount int                `json:"checkpoint_count"`
	TopCandidates   []topCandidate     `json:"top_candidates,omitempty"`
}

// writeOutputs writes the fitted preset and its report.
func writeOutputs(cfg *optimizationConfig, variant string, cp checkpoint) error {
	p := applyCandidate(cfg.base, cfg.defs, cp.best)
	p.ChunkMs = cfg.problem.chunkMs
	if err := preset.WriteJSON(cfg.outputs.preset, p); err != nil {
		return err
	}

	knobs := make(map[string]float64, len(cfg.defs))
	for i, d := range cfg.defs {
		knobs[d.Name] = cp.best.Vals[i]
	}
	rep := runReport{
		TargetDir:       cfg.outputs.targetDir,
		CorpusDir:       cfg.outputs.corpusDir,
		BasePreset:      cfg.outputs.basePreset,
		OutputPreset:    cfg.outputs.preset,
		Features:        p.Features,
		Index:           string(cfg.problem.kind),
		ChunkMs:         cfg.problem.chunkMs,
		Targets:         len(cfg.problem.targets),
		CorpusChunks:    len(cfg.problem.corpus.Entries),
		DurationSec:     cp.elapsed.Seconds(),
		Evaluations:     cp.evals,
		MayflyVariant:   variant,
		BestScore:       cp.metrics.Score,
		BestSimilarity:  cp.metrics.Similarity,
		BestMetrics:     cp.metrics,
		BestKnobs:       knobs,
		CheckpointCount: cp.checkpoints,
		TopCandidates:   cp.top,
	}
	return writeJSON(cfg.outputs.reportPath(), rep)
}

// loadCandidateFromReport resumes from the best_knobs of an earlier report.
// A missing report is not an error.
func loadCandidateFromReport(path string, defs []knobDef, fallback candidate) (candidate, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fallback, false, nil
		}
		return fallback, false, err
	}
	var rep struct {
		BestKnobs map[string]float64 `json:"best_knobs"`
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return fallback, false, err
	}
	if len(rep.BestKnobs) == 0 {
		return fallback, false, nil
	}

	vals := make([]float64, len(fallback.Vals))
	copy(vals, fallback.Vals)
	updated := false
	for i, d := range defs {
		if v, ok := rep.BestKnobs[d.Name]; ok {
			vals[i] = clamp(v, d.Min, d.Max)
			updated = true
		}
	}
	if !updated {
		return fallback, false, nil
	}
	return candidate{Vals: vals}, true, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}
