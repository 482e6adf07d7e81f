package batch

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/synth"
)

func noiseWAV(t *testing.T, dir, name string, sr, ch, frames int, seed int64) string {
	t.Helper()
	b := audio.NewBuffer(sr, 16, ch, frames)
	rng := rand.New(rand.NewSource(seed))
	for c := range b.Channels {
		for i := range b.Channels[c] {
			b.Channels[c][i] = (rng.Float64()*2 - 1) * (0.1 + 0.8*float64(i)/float64(frames))
		}
	}
	path := filepath.Join(dir, name)
	if err := audio.WriteWAV(path, b); err != nil {
		t.Fatalf("WriteWAV(%s): %v", name, err)
	}
	return path
}

func corruptWAV(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("this is not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSynthesizer(t *testing.T, chunkMs int) *synth.Synthesizer {
	t.Helper()
	dir := t.TempDir()
	donors := []string{
		noiseWAV(t, dir, "d1.wav", 8000, 1, 8000, 101),
		noiseWAV(t, dir, "d2.wav", 16000, 2, 8000, 102),
	}
	ex, err := synth.NewSpectralExtractor()
	if err != nil {
		t.Fatal(err)
	}
	corpus, err := synth.LoadCorpus(context.Background(), donors, synth.CorpusOptions{
		ChunkMs: chunkMs, Extractor: ex, Workers: 2,
	})
	if err != nil {
		t.Fatalf("LoadCorpus() error: %v", err)
	}
	ix, err := corpus.Index(synth.IndexKDTree)
	if err != nil {
		t.Fatal(err)
	}
	return &synth.Synthesizer{
		ChunkMs:   chunkMs,
		Matcher:   synth.NewMatcher(ex, ix),
		Assembler: synth.NewAssembler(synth.DefaultCrossfade),
	}
}

func TestRunSkipsCorruptRecording(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	targets := []string{
		noiseWAV(t, in, "a.wav", 8000, 1, 4000, 1),
		corruptWAV(t, in, "b.wav"),
		noiseWAV(t, in, "c.wav", 22050, 2, 11025, 3),
	}
	m := NewMetrics()
	d := NewDispatcher(newTestSynthesizer(t, 100), Options{
		Workers:   2,
		OutputDir: out,
		Metrics:   m,
		Progress:  &bytes.Buffer{},
	})

	s, err := d.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got, want := s.String(), "3 recordings: 2 written, 1 skipped"; got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
	if s.Skipped[0].Target != targets[1] || !errors.Is(s.Skipped[0].Err, audio.ErrInvalidWAV) {
		t.Fatalf("skip = %+v, want %s with ErrInvalidWAV", s.Skipped[0], targets[1])
	}
	if s.Completed[0].Target != targets[0] || s.Completed[1].Target != targets[2] {
		t.Fatalf("completed out of enumeration order: %+v", s.Completed)
	}

	for i, want := range []struct{ sr, ch, frames int }{{8000, 1, 4000}, {22050, 2, 11025}} {
		b, err := audio.ReadWAV(s.Completed[i].Output)
		if err != nil {
			t.Fatalf("ReadWAV(%s): %v", s.Completed[i].Output, err)
		}
		if b.SampleRate != want.sr || b.NumChannels() != want.ch || b.Frames() != want.frames {
			t.Fatalf("output %s, want %d Hz %d ch %d frames", b, want.sr, want.ch, want.frames)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "b.wav")); !os.IsNotExist(err) {
		t.Fatalf("skipped recording produced output (stat err %v)", err)
	}

	if got := testutil.ToFloat64(m.Recordings.WithLabelValues(StatusWritten)); got != 2 {
		t.Fatalf("written counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Recordings.WithLabelValues(StatusSkipped)); got != 1 {
		t.Fatalf("skipped counter = %v, want 1", got)
	}
	// a: 4000/800 = 5 chunks; c: 11025/2205 = 5 chunks.
	if got := testutil.ToFloat64(m.ChunksMatched); got != 10 {
		t.Fatalf("chunks counter = %v, want 10", got)
	}
}

func TestRunIsIndependentOfWorkerCount(t *testing.T) {
	in := t.TempDir()
	var targets []string
	for i, name := range []string{"a.wav", "b.wav", "c.wav", "d.wav", "e.wav"} {
		targets = append(targets, noiseWAV(t, in, name, 8000, 1, 3000+700*i, int64(10+i)))
	}
	s := newTestSynthesizer(t, 50)

	run := func(workers int) string {
		out := t.TempDir()
		sum, err := NewDispatcher(s, Options{Workers: workers, OutputDir: out}).Run(context.Background(), targets)
		if err != nil {
			t.Fatalf("Run(workers=%d) error: %v", workers, err)
		}
		if len(sum.Completed) != len(targets) {
			t.Fatalf("Run(workers=%d) = %s", workers, sum)
		}
		return out
	}
	one, four := run(1), run(4)
	for _, p := range targets {
		name := filepath.Base(p)
		a, err := os.ReadFile(filepath.Join(one, name))
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(four, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("%s differs between 1 and 4 workers", name)
		}
	}
}

func TestRunStopsOnInvalidChunkSize(t *testing.T) {
	in := t.TempDir()
	targets := []string{
		noiseWAV(t, in, "a.wav", 8000, 1, 400, 1), // shorter than one 100 ms chunk
		noiseWAV(t, in, "b.wav", 8000, 1, 4000, 2),
	}
	d := NewDispatcher(newTestSynthesizer(t, 100), Options{Workers: 1, OutputDir: t.TempDir()})
	s, err := d.Run(context.Background(), targets)
	if !errors.Is(err, synth.ErrInvalidChunkSize) {
		t.Fatalf("Run() error = %v, want ErrInvalidChunkSize", err)
	}
	if len(s.Completed) != 0 || s.Pending != 2 {
		t.Fatalf("summary after fatal error = %s", s)
	}
}

func TestRunCancelled(t *testing.T) {
	in := t.TempDir()
	targets := []string{noiseWAV(t, in, "a.wav", 8000, 1, 4000, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := NewDispatcher(newTestSynthesizer(t, 100), Options{OutputDir: t.TempDir()}).Run(ctx, targets)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if s.Pending != 1 || s.Total() != 1 {
		t.Fatalf("summary = %s, want 1 pending", s)
	}
}

func TestRunTaskTimeoutSkipsRecording(t *testing.T) {
	in := t.TempDir()
	targets := []string{noiseWAV(t, in, "a.wav", 8000, 1, 4000, 1)}
	d := NewDispatcher(newTestSynthesizer(t, 100), Options{
		OutputDir:   t.TempDir(),
		TaskTimeout: time.Nanosecond,
	})
	s, err := d.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(s.Skipped) != 1 || !errors.Is(s.Skipped[0].Err, context.DeadlineExceeded) {
		t.Fatalf("summary = %s, skipped %+v", s, s.Skipped)
	}
	if !strings.Contains(s.Skipped[0].Err.Error(), "timeout") {
		t.Fatalf("skip error %q should name the timeout", s.Skipped[0].Err)
	}
}
