// Package audio holds decoded recordings and the WAV codec around them.
package audio

import "fmt"

// Buffer is a decoded recording. Samples are stored per channel and
// normalized to [-1, 1). A Buffer is treated as immutable once decoded.
type Buffer struct {
	Name       string
	SampleRate int
	BitDepth   int
	Channels   [][]float64
}

// NewBuffer allocates a silent buffer with the given layout.
func NewBuffer(sampleRate, bitDepth, channels, frames int) *Buffer {
	b := &Buffer{
		SampleRate: sampleRate,
		BitDepth:   bitDepth,
		Channels:   make([][]float64, channels),
	}
	for c := range b.Channels {
		b.Channels[c] = make([]float64, frames)
	}
	return b
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// SameLayout reports whether o has the same rate, depth, channels and length.
func (b *Buffer) SameLayout(o *Buffer) bool {
	return b.SampleRate == o.SampleRate &&
		b.BitDepth == o.BitDepth &&
		b.NumChannels() == o.NumChannels() &&
		b.Frames() == o.Frames()
}

// Mono returns the channel average of frames [start, start+n).
func (b *Buffer) Mono(start, n int) []float64 {
	out := make([]float64, n)
	ch := b.NumChannels()
	if ch == 0 {
		return out
	}
	for c := 0; c < ch; c++ {
		src := b.Channels[c][start : start+n]
		for i, v := range src {
			out[i] += v
		}
	}
	if ch > 1 {
		g := 1.0 / float64(ch)
		for i := range out {
			out[i] *= g
		}
	}
	return out
}

func (b *Buffer) String() string {
	return fmt.Sprintf("%s: %d frames, %d ch, %d Hz, %d-bit",
		b.Name, b.Frames(), b.NumChannels(), b.SampleRate, b.BitDepth)
}
