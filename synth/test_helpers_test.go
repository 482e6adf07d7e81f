package synth

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-chainlink/audio"
)

func silentBuffer(name string, sr, ch, frames int) *audio.Buffer {
	b := audio.NewBuffer(sr, 16, ch, frames)
	b.Name = name
	return b
}

func noiseBuffer(name string, sr, ch, frames int, seed int64) *audio.Buffer {
	b := audio.NewBuffer(sr, 16, ch, frames)
	b.Name = name
	rng := rand.New(rand.NewSource(seed))
	for c := range b.Channels {
		for i := range b.Channels[c] {
			b.Channels[c][i] = rng.Float64()*1.6 - 0.8
		}
	}
	return b
}

func sineBuffer(name string, sr, frames int, freq, amp float64) *audio.Buffer {
	b := audio.NewBuffer(sr, 16, 1, frames)
	b.Name = name
	for i := range b.Channels[0] {
		b.Channels[0][i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return b
}

// rampNoiseBuffer is noise whose level rises across the buffer, so every
// chunk has a distinct descriptor.
func rampNoiseBuffer(name string, sr, frames int, seed int64) *audio.Buffer {
	b := noiseBuffer(name, sr, 1, frames, seed)
	for i := range b.Channels[0] {
		b.Channels[0][i] *= 0.05 + 0.95*float64(i)/float64(frames)
	}
	return b
}

func writeTestWAV(t *testing.T, dir, name string, b *audio.Buffer) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := audio.WriteWAV(path, b); err != nil {
		t.Fatalf("WriteWAV(%s): %v", name, err)
	}
	return path
}

func mustSpectral(t testing.TB) *SpectralExtractor {
	t.Helper()
	ex, err := NewSpectralExtractor()
	if err != nil {
		t.Fatalf("NewSpectralExtractor() error: %v", err)
	}
	return ex
}

func entriesFor(t testing.TB, ex Extractor, source int, b *audio.Buffer, frames int) []Entry {
	t.Helper()
	chunks, err := Split(b, source, frames)
	if err != nil {
		t.Fatalf("Split(%s): %v", b.Name, err)
	}
	var out []Entry
	for c := range chunks.All() {
		out = append(out, Entry{Chunk: c, Descriptor: ex.Extract(c)})
	}
	return out
}
