package main

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwbudde/algo-chainlink/analysis"
	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/preset"
	"github.com/cwbudde/algo-chainlink/synth"
)

func TestNewMayflyConfig(t *testing.T) {
	tests := []struct {
		variant string
		wantErr bool
	}{
		{variant: "ma"},
		{variant: "desma"},
		{variant: "olce"},
		{variant: "eobbma"},
		{variant: "gsasma"},
		{variant: "mpma"},
		{variant: "aoblmoa"},
		{variant: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.variant, func(t *testing.T) {
			cfg, err := newMayflyConfig(tt.variant, 10, 5, 20)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("newMayflyConfig(%q) expected error", tt.variant)
				}
				return
			}
			if err != nil {
				t.Fatalf("newMayflyConfig(%q) unexpected error: %v", tt.variant, err)
			}
			if cfg.ProblemSize != 5 || cfg.NPop != 10 || cfg.MaxIterations != 20 {
				t.Fatalf("config = size %d pop %d iters %d", cfg.ProblemSize, cfg.NPop, cfg.MaxIterations)
			}
			if cfg.LowerBound != 0 || cfg.UpperBound != 1 {
				t.Fatalf("bounds = [%v,%v], want [0,1]", cfg.LowerBound, cfg.UpperBound)
			}
		})
	}
}

func TestReserveEvalCapsAtMax(t *testing.T) {
	const (
		maxEvals = 47
		workers  = 8
	)

	var evals int64
	var granted int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, ok := reserveEval(&evals, maxEvals); !ok {
					return
				}
				atomic.AddInt64(&granted, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&granted); got != maxEvals {
		t.Fatalf("granted evaluations = %d, want %d", got, maxEvals)
	}
}

func TestUpdateTopCandidatesKeepsBest(t *testing.T) {
	defs := []knobDef{{Name: "weight.level", Min: 0.1, Max: 10, Log: true}}
	var top []topCandidate
	for i, score := range []float64{0.5, 0.2, 0.9, 0.2, 0.1} {
		top = updateTopCandidates(top, 3, i+1, analysis.Metrics{Score: score}, defs, candidate{Vals: []float64{float64(i)}})
	}
	if len(top) != 3 {
		t.Fatalf("len(top) = %d", len(top))
	}
	wantEvals := []int{5, 2, 4}
	for i, e := range wantEvals {
		if top[i].Eval != e {
			t.Fatalf("top[%d].Eval = %d, want %d (%+v)", i, top[i].Eval, e, top)
		}
	}
}

func TestMeanMetrics(t *testing.T) {
	m := meanMetrics([]analysis.Metrics{
		{Score: 0.2, Similarity: 0.6, SpectralNorm: 0.4, ComparedFrames: 100},
		{Score: 0.4, Similarity: 0.2, SpectralNorm: 0.2, ComparedFrames: 50},
	})
	if math.Abs(m.Score-0.3) > 1e-12 || math.Abs(m.Similarity-0.4) > 1e-12 {
		t.Fatalf("mean = %+v", m)
	}
	if m.ComparedFrames != 150 || m.Dominant != "spectral" {
		t.Fatalf("mean = %+v", m)
	}
	if got := meanMetrics(nil); got.Score != 1 {
		t.Fatalf("empty mean score = %v", got.Score)
	}
}

func writeNoiseWAV(t *testing.T, path string, sr, frames int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	buf := audio.NewBuffer(sr, 16, 1, frames)
	for i := range buf.Channels[0] {
		// Noise with a slow level ramp so chunks differ in level.
		buf.Channels[0][i] = (0.05 + 0.8*float64(i)/float64(frames)) * (rng.Float64()*2 - 1)
	}
	if err := audio.WriteWAV(path, buf); err != nil {
		t.Fatal(err)
	}
}

func newTestProblem(t *testing.T) (*fitProblem, string, string) {
	t.Helper()
	root := t.TempDir()
	targets := filepath.Join(root, "targets")
	donors := filepath.Join(root, "donors")
	for _, dir := range []string{targets, donors} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeNoiseWAV(t, filepath.Join(targets, "t.wav"), 8000, 4000, 1)
	writeNoiseWAV(t, filepath.Join(donors, "d.wav"), 8000, 8000, 2)
	p, err := loadProblem(context.Background(), targets, donors, 50, synth.FeaturesEnergy, synth.IndexKDTree, 0, nil)
	if err != nil {
		t.Fatalf("loadProblem() error: %v", err)
	}
	return p, targets, donors
}

func TestLoadProblemSkipsShortTargets(t *testing.T) {
	root := t.TempDir()
	writeNoiseWAV(t, filepath.Join(root, "short.wav"), 8000, 100, 1)
	_, err := loadProblem(context.Background(), root, root, 50, synth.FeaturesEnergy, synth.IndexLinear, 0, nil)
	if err == nil || !strings.Contains(err.Error(), "no usable targets") {
		t.Fatalf("loadProblem() error = %v", err)
	}
}

func TestRunOptimizationWritesPreset(t *testing.T) {
	problem, targets, donors := newTestProblem(t)
	base, err := preset.NewDefaultParams(synth.FeaturesEnergy)
	if err != nil {
		t.Fatal(err)
	}
	defs, initCand := initCandidate(base, map[string]bool{"weights": true, "crossfade": true}, 0.1, 10)
	out := filepath.Join(t.TempDir(), "fit", "weights.json")

	var log bytes.Buffer
	cfg := &optimizationConfig{
		problem:          problem,
		base:             base,
		defs:             defs,
		initCandidate:    initCand,
		seed:             3,
		timeBudget:       time.Minute,
		maxEvals:         12,
		reportEvery:      5,
		checkpointEvery:  1,
		mayflyVariant:    "ma",
		mayflyPop:        4,
		mayflyRoundEvals: 16,
		workers:          2,
		topK:             3,
		outputs:          outputPaths{preset: out, targetDir: targets, corpusDir: donors},
		out:              &log,
	}
	res, err := runOptimization(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runOptimization() error: %v", err)
	}
	if res.evals < 1 || res.evals > cfg.maxEvals {
		t.Fatalf("evals = %d, want 1..%d", res.evals, cfg.maxEvals)
	}
	if res.bestMetrics.Score > res.top[0].Score+1e-12 {
		t.Fatalf("best score %v worse than top %v", res.bestMetrics.Score, res.top[0].Score)
	}
	if !strings.Contains(log.String(), "Start score=") {
		t.Fatalf("log missing start line:\n%s", log.String())
	}

	if err := writeOutputs(cfg, "ma", checkpoint{best: res.best, metrics: res.bestMetrics, top: res.top, evals: res.evals}); err != nil {
		t.Fatalf("writeOutputs() error: %v", err)
	}
	p, err := preset.LoadJSON(out)
	if err != nil {
		t.Fatalf("fitted preset does not load: %v", err)
	}
	if p.Features != synth.FeaturesEnergy || p.ChunkMs != 50 || len(p.Weights) != 8 {
		t.Fatalf("fitted preset = %+v", p)
	}
	resumed, ok, err := loadCandidateFromReport(out+".report.json", defs, initCand)
	if err != nil || !ok {
		t.Fatalf("resume from report: ok=%v err=%v", ok, err)
	}
	for i := range resumed.Vals {
		if math.Abs(resumed.Vals[i]-res.best.Vals[i]) > 1e-9 {
			t.Fatalf("resumed knob %d = %v, want %v", i, resumed.Vals[i], res.best.Vals[i])
		}
	}
}

func TestRunOptimizationStopsOnCancel(t *testing.T) {
	problem, _, _ := newTestProblem(t)
	base, err := preset.NewDefaultParams(synth.FeaturesEnergy)
	if err != nil {
		t.Fatal(err)
	}
	defs, initCand := initCandidate(base, map[string]bool{"crossfade": true}, 0.1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runOptimization(ctx, &optimizationConfig{
		problem: problem, base: base, defs: defs, initCandidate: initCand,
		timeBudget: time.Minute, maxEvals: 100, mayflyVariant: "ma", mayflyPop: 2, mayflyRoundEvals: 4, topK: 1,
	})
	if err == nil {
		t.Fatal("expected an error from a cancelled run")
	}
}
