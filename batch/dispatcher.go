// Package batch runs the synthesizer over a directory of target recordings.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/synth"
)

// Options configures a Dispatcher.
type Options struct {
	Workers     int           // concurrent recordings; < 1 means 1
	TaskTimeout time.Duration // per recording; 0 disables
	OutputDir   string
	Logger      *slog.Logger
	Metrics     *Metrics
	Progress    io.Writer // progress bar destination; nil disables
}

// Dispatcher processes target recordings with a bounded worker pool.
type Dispatcher struct {
	synth *synth.Synthesizer
	opts  Options
	log   *slog.Logger
}

// NewDispatcher returns a dispatcher around a ready synthesizer. The
// synthesizer's index is shared read-only by every worker.
func NewDispatcher(s *synth.Synthesizer, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts.Workers = max(opts.Workers, 1)
	return &Dispatcher{synth: s, opts: opts, log: logger}
}

type taskState int

const (
	taskPending taskState = iota
	taskWritten
	taskSkipped
)

type taskResult struct {
	state   taskState
	outcome Outcome
	err     error
}

// Run synthesizes every target and writes <OutputDir>/<base name>.
//
// Per-recording failures become Skips and the batch continues. An invalid
// chunk size is fatal: no new recordings start and the error is returned
// with the partial summary. Cancelling ctx stops dispatch; in-flight
// recordings stop at the next chunk boundary and count as pending. Files
// already written are kept.
func (d *Dispatcher) Run(ctx context.Context, targets []string) (*Summary, error) {
	results := make([]taskResult, len(targets))
	bar := newProgress(d.opts.Progress, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, path := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			o, err := d.process(gctx, path)
			switch {
			case err == nil:
				results[i] = taskResult{state: taskWritten, outcome: o}
			case errors.Is(err, synth.ErrInvalidChunkSize):
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			case gctx.Err() != nil && errors.Is(err, gctx.Err()):
				// Abandoned by cancellation; stays pending.
				return nil
			default:
				results[i] = taskResult{state: taskSkipped, err: err}
				d.opts.Metrics.observeSkipped()
				d.log.Warn("skipping recording",
					slog.String("file", filepath.Base(path)),
					slog.String("error", err.Error()),
				)
			}
			bar.increment()
			return nil
		})
	}
	err := g.Wait()
	bar.finish()

	s := &Summary{}
	for i, r := range results {
		switch r.state {
		case taskWritten:
			s.Completed = append(s.Completed, r.outcome)
		case taskSkipped:
			s.Skipped = append(s.Skipped, Skip{Target: targets[i], Err: r.err})
		default:
			s.Pending++
		}
	}
	if err != nil {
		return s, err
	}
	return s, ctx.Err()
}

// process handles one recording: decode, synthesize, encode.
func (d *Dispatcher) process(ctx context.Context, path string) (Outcome, error) {
	start := time.Now()
	if d.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d.opts.TaskTimeout,
			fmt.Errorf("recording exceeded %s timeout", d.opts.TaskTimeout))
		defer cancel()
	}

	target, err := audio.ReadWAV(path)
	if err != nil {
		return Outcome{}, err
	}
	out, matches, err := d.synth.Synthesize(ctx, target)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("%w: %w", err, context.Cause(ctx))
		}
		return Outcome{}, err
	}

	dst := filepath.Join(d.opts.OutputDir, filepath.Base(path))
	if err := audio.WriteWAV(dst, out); err != nil {
		return Outcome{}, err
	}

	distances := make([]float64, len(matches))
	var sum float64
	for i, m := range matches {
		distances[i] = m.Distance
		sum += m.Distance
	}
	o := Outcome{
		Target:       path,
		Output:       dst,
		Frames:       out.Frames(),
		Chunks:       len(matches),
		MeanDistance: sum / float64(len(matches)),
		Elapsed:      time.Since(start),
	}
	d.opts.Metrics.observeWritten(o, distances)
	d.log.Info("wrote recording",
		slog.String("file", filepath.Base(path)),
		slog.Int("chunks", o.Chunks),
		slog.Float64("mean_distance", o.MeanDistance),
		slog.Duration("elapsed", o.Elapsed),
	)
	return o, nil
}
