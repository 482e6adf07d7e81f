package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/algo-chainlink/analysis"
	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/preset"
	"github.com/cwbudde/algo-chainlink/synth"
)

type topCandidate struct {
	Eval       int                `json:"eval"`
	Score      float64            `json:"score"`
	Similarity float64            `json:"similarity"`
	Knobs      map[string]float64 `json:"knobs"`
}

// fitProblem rebuilds every target from a corpus described once with unit
// weights; candidates only rescale the stored descriptors.
type fitProblem struct {
	targets []*audio.Buffer
	corpus  *synth.Corpus
	kind    synth.IndexKind
	chunkMs int
}

// evaluate synthesizes every target with p and averages the metrics.
func (fp *fitProblem) evaluate(ctx context.Context, p *preset.Params) (analysis.Metrics, error) {
	ex, err := p.Extractor()
	if err != nil {
		return analysis.Metrics{}, err
	}
	entries, err := fp.corpus.Reweighted(p.Weights)
	if err != nil {
		return analysis.Metrics{}, err
	}
	index, err := synth.NewIndex(entries, fp.kind)
	if err != nil {
		return analysis.Metrics{}, err
	}
	s := &synth.Synthesizer{
		ChunkMs:   fp.chunkMs,
		Matcher:   synth.NewMatcher(ex, index),
		Assembler: synth.NewAssembler(p.Crossfade()),
	}
	all := make([]analysis.Metrics, 0, len(fp.targets))
	for _, target := range fp.targets {
		out, _, err := s.Synthesize(ctx, target)
		if err != nil {
			return analysis.Metrics{}, fmt.Errorf("%s: %w", target.Name, err)
		}
		m, err := analysis.CompareBuffers(target, out)
		if err != nil {
			return analysis.Metrics{}, fmt.Errorf("%s: %w", target.Name, err)
		}
		all = append(all, m)
	}
	return meanMetrics(all), nil
}

// meanMetrics averages per-target metrics. Frame counts are summed.
func meanMetrics(all []analysis.Metrics) analysis.Metrics {
	if len(all) == 0 {
		return analysis.Metrics{Score: 1}
	}
	if len(all) == 1 {
		return all[0]
	}
	var out analysis.Metrics
	out.SampleRate = all[0].SampleRate
	for _, m := range all {
		out.ReferenceFrames += m.ReferenceFrames
		out.CandidateFrames += m.CandidateFrames
		out.ComparedFrames += m.ComparedFrames
		out.TimeRMSE += m.TimeRMSE
		out.SNRDB += m.SNRDB
		out.EnvelopeRMSEDB += m.EnvelopeRMSEDB
		out.SpectralRMSEDB += m.SpectralRMSEDB
		out.TimeNorm += m.TimeNorm
		out.EnvelopeNorm += m.EnvelopeNorm
		out.SpectralNorm += m.SpectralNorm
		out.Score += m.Score
		out.Similarity += m.Similarity
	}
	n := float64(len(all))
	out.TimeRMSE /= n
	out.SNRDB /= n
	out.EnvelopeRMSEDB /= n
	out.SpectralRMSEDB /= n
	out.TimeNorm /= n
	out.EnvelopeNorm /= n
	out.SpectralNorm /= n
	out.Score /= n
	out.Similarity /= n

	out.Dominant = "time"
	best := analysis.WeightTime * out.TimeNorm
	if c := analysis.WeightEnvelope * out.EnvelopeNorm; c > best {
		out.Dominant, best = "envelope", c
	}
	if c := analysis.WeightSpectral * out.SpectralNorm; c > best {
		out.Dominant = "spectral"
	}
	return out
}

type optimizationConfig struct {
	problem          *fitProblem
	base             *preset.Params
	defs             []knobDef
	initCandidate    candidate
	seed             int64
	timeBudget       time.Duration
	maxEvals         int
	reportEvery      int
	checkpointEvery  int
	mayflyVariant    string
	mayflyPop        int
	mayflyRoundEvals int
	workers          int
	topK             int
	outputs          outputPaths
	out              io.Writer
}

type optimizationResult struct {
	best        candidate
	bestMetrics analysis.Metrics
	bestParams  *preset.Params
	top         []topCandidate
	evals       int
	elapsed     time.Duration
	checkpoints int
}

type optimizationState struct {
	mu          sync.Mutex
	best        candidate
	bestMetrics analysis.Metrics
	top         []topCandidate
	checkpoints int
}

func runOptimization(ctx context.Context, cfg *optimizationConfig) (*optimizationResult, error) {
	out := cfg.out
	if out == nil {
		out = io.Discard
	}
	start := time.Now()
	deadline := start.Add(cfg.timeBudget)
	variant := strings.ToLower(cfg.mayflyVariant)

	best := cloneCandidate(cfg.initCandidate)
	initialMetrics, err := cfg.problem.evaluate(ctx, applyCandidate(cfg.base, cfg.defs, best))
	if err != nil {
		return nil, fmt.Errorf("initial evaluation failed: %w", err)
	}
	fmt.Fprintf(out, "Start score=%.4f similarity=%.2f%%\n", initialMetrics.Score, initialMetrics.Similarity*100.0)

	state := &optimizationState{
		best:        best,
		bestMetrics: initialMetrics,
		top:         updateTopCandidates(nil, cfg.topK, 1, initialMetrics, cfg.defs, best),
	}

	var evals int64 = 1
	var rounds int64
	var improves int64
	var outputMu sync.Mutex

	workers := cfg.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = max(workers, 1)

	stopped := func() bool {
		return ctx.Err() != nil || time.Now().After(deadline)
	}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if stopped() || atomic.LoadInt64(&evals) >= int64(cfg.maxEvals) {
					return
				}
				round := int(atomic.AddInt64(&rounds, 1))
				remaining := cfg.maxEvals - int(atomic.LoadInt64(&evals))
				if remaining <= 0 {
					return
				}
				budget := min(cfg.mayflyRoundEvals, remaining)
				iters := max(1, budget/(2*cfg.mayflyPop))

				mayflyConfig, err := newMayflyConfig(variant, cfg.mayflyPop, len(cfg.defs), iters)
				if err != nil {
					fmt.Fprintf(out, "mayfly round %d setup failed: %v\n", round, err)
					return
				}
				mayflyConfig.Rand = rand.New(rand.NewSource(cfg.seed + int64(round)*7919))
				mayflyConfig.ObjectiveFunc = func(pos []float64) float64 {
					if stopped() {
						return currentBestScore(state) + 1.0
					}
					evalNum, ok := reserveEval(&evals, cfg.maxEvals)
					if !ok {
						return currentBestScore(state) + 1.0
					}

					cand := fromNormalized(pos, cfg.defs)
					metrics, err := cfg.problem.evaluate(ctx, applyCandidate(cfg.base, cfg.defs, cand))
					if err != nil {
						return currentBestScore(state) + 0.8
					}

					state.mu.Lock()
					state.top = updateTopCandidates(state.top, cfg.topK, int(evalNum), metrics, cfg.defs, cand)
					improved := metrics.Score < state.bestMetrics.Score
					var improveNum int64
					var snapshot checkpoint
					if improved {
						state.best = cloneCandidate(cand)
						state.bestMetrics = metrics
						improveNum = atomic.AddInt64(&improves, 1)
						snapshot = checkpoint{
							best:    cloneCandidate(cand),
							metrics: metrics,
							top:     cloneTopCandidates(state.top),
						}
					}
					bestScore := state.bestMetrics.Score
					state.mu.Unlock()

					if improved {
						fmt.Fprintf(out, "Improved #%d eval=%d score=%.4f sim=%.2f%%\n", improveNum, evalNum, metrics.Score, metrics.Similarity*100.0)
						if cfg.checkpointEvery > 0 && improveNum%int64(cfg.checkpointEvery) == 0 {
							outputMu.Lock()
							state.mu.Lock()
							num := state.checkpoints + 1
							state.mu.Unlock()
							snapshot.evals = int(atomic.LoadInt64(&evals))
							snapshot.elapsed = time.Since(start)
							snapshot.checkpoints = num
							if err := writeOutputs(cfg, variant, snapshot); err != nil {
								fmt.Fprintf(out, "checkpoint write failed: %v\n", err)
							} else {
								state.mu.Lock()
								state.checkpoints = max(state.checkpoints, num)
								state.mu.Unlock()
							}
							outputMu.Unlock()
						}
					}

					if cfg.reportEvery > 0 && evalNum%int64(cfg.reportEvery) == 0 {
						fmt.Fprintf(out, "Progress eval=%d/%d elapsed=%.1fs best=%.4f\n", evalNum, cfg.maxEvals, time.Since(start).Seconds(), bestScore)
					}
					return metrics.Score
				}

				if _, err := runMayfly(mayflyConfig); err != nil {
					fmt.Fprintf(out, "mayfly round %d failed: %v\n", round, err)
				}
			}
		}()
	}
	wg.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()
	res := &optimizationResult{
		best:        cloneCandidate(state.best),
		bestMetrics: state.bestMetrics,
		bestParams:  applyCandidate(cfg.base, cfg.defs, state.best),
		top:         cloneTopCandidates(state.top),
		evals:       int(atomic.LoadInt64(&evals)),
		elapsed:     time.Since(start),
		checkpoints: state.checkpoints,
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return res, ctx.Err()
	}
	return res, nil
}

func cloneCandidate(c candidate) candidate {
	vals := make([]float64, len(c.Vals))
	copy(vals, c.Vals)
	return candidate{Vals: vals}
}

func cloneTopCandidates(in []topCandidate) []topCandidate {
	out := make([]topCandidate, len(in))
	for i := range in {
		entry := in[i]
		entry.Knobs = make(map[string]float64, len(in[i].Knobs))
		for k, v := range in[i].Knobs {
			entry.Knobs[k] = v
		}
		out[i] = entry
	}
	return out
}

func newMayflyConfig(variant string, pop int, dims int, iters int) (*mayfly.Config, error) {
	var cfg *mayfly.Config
	switch variant {
	case "ma":
		cfg = mayfly.NewDefaultConfig()
	case "desma":
		cfg = mayfly.NewDESMAConfig()
	case "olce":
		cfg = mayfly.NewOLCEConfig()
	case "eobbma":
		cfg = mayfly.NewEOBBMAConfig()
	case "gsasma":
		cfg = mayfly.NewGSASMAConfig()
	case "mpma":
		cfg = mayfly.NewMPMAConfig()
	case "aoblmoa":
		cfg = mayfly.NewAOBLMOAConfig()
	default:
		return nil, fmt.Errorf("unsupported variant %q", variant)
	}
	cfg.ProblemSize = dims
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = iters
	cfg.NPop = pop
	cfg.NPopF = pop
	cfg.NC = 2 * pop
	cfg.NM = max(1, int(math.Round(0.05*float64(pop))))
	return cfg, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

func reserveEval(evals *int64, maxEvals int) (int64, bool) {
	for {
		cur := atomic.LoadInt64(evals)
		if cur >= int64(maxEvals) {
			return 0, false
		}
		if atomic.CompareAndSwapInt64(evals, cur, cur+1) {
			return cur + 1, true
		}
	}
}

func currentBestScore(state *optimizationState) float64 {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.bestMetrics.Score
}

func updateTopCandidates(top []topCandidate, topK int, eval int, metrics analysis.Metrics, defs []knobDef, cand candidate) []topCandidate {
	entry := topCandidate{
		Eval:       eval,
		Score:      metrics.Score,
		Similarity: metrics.Similarity,
		Knobs:      make(map[string]float64, len(defs)),
	}
	for i, d := range defs {
		entry.Knobs[d.Name] = cand.Vals[i]
	}
	top = append(top, entry)
	sort.Slice(top, func(i, j int) bool {
		if top[i].Score == top[j].Score {
			return top[i].Eval < top[j].Eval
		}
		return top[i].Score < top[j].Score
	})
	if len(top) > topK {
		top = top[:topK]
	}
	return top
}
