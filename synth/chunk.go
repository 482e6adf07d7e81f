// Package synth implements concatenative synthesis: recordings are cut into
// fixed-length chunks, each target chunk is replaced by the nearest donor
// chunk from a corpus, and the replacements are stitched back together.
package synth

import (
	"errors"
	"fmt"
	"iter"

	"github.com/cwbudde/algo-chainlink/audio"
)

// ErrInvalidChunkSize indicates a chunk length that is not positive or that
// exceeds the buffer being split.
var ErrInvalidChunkSize = errors.New("invalid chunk size")

// Chunk is a view into a Buffer. It never copies samples on its own.
type Chunk struct {
	Buffer *audio.Buffer
	Source int // donor file index in corpus enumeration order; 0 for targets
	Index  int // position within the buffer's chunk sequence
	Offset int // first frame
	Length int // frame count
}

// Samples returns per-channel sub-slices of the owning buffer.
func (c Chunk) Samples() [][]float64 {
	out := make([][]float64, c.Buffer.NumChannels())
	for ch := range out {
		out[ch] = c.Buffer.Channels[ch][c.Offset : c.Offset+c.Length]
	}
	return out
}

// Mono returns a freshly allocated channel mixdown of the chunk.
func (c Chunk) Mono() []float64 {
	return c.Buffer.Mono(c.Offset, c.Length)
}

// End returns the frame after the chunk.
func (c Chunk) End() int {
	return c.Offset + c.Length
}

func (c Chunk) String() string {
	name := ""
	if c.Buffer != nil {
		name = c.Buffer.Name
	}
	return fmt.Sprintf("%s#%d [%d,%d)", name, c.Index, c.Offset, c.End())
}

// FramesForDuration converts a chunk size in milliseconds to frames,
// rounding down.
func FramesForDuration(sampleRate, ms int) int {
	return int(int64(sampleRate) * int64(ms) / 1000)
}

// Chunks is the ordered, gap-free partition of one buffer.
type Chunks struct {
	buf    *audio.Buffer
	source int
	frames int
	count  int
}

// Split partitions buf into chunks of frames length. The last chunk carries
// the remainder and is never padded.
func Split(buf *audio.Buffer, source, frames int) (Chunks, error) {
	total := buf.Frames()
	if frames <= 0 || frames > total {
		return Chunks{}, fmt.Errorf("%w: %d frames for %d-frame buffer %q", ErrInvalidChunkSize, frames, total, buf.Name)
	}
	return Chunks{
		buf:    buf,
		source: source,
		frames: frames,
		count:  (total + frames - 1) / frames,
	}, nil
}

// SplitDuration splits buf into chunks of ms milliseconds at its own rate.
func SplitDuration(buf *audio.Buffer, source, ms int) (Chunks, error) {
	return Split(buf, source, FramesForDuration(buf.SampleRate, ms))
}

// Len returns the number of chunks.
func (cs Chunks) Len() int { return cs.count }

// ChunkFrames returns the nominal chunk length.
func (cs Chunks) ChunkFrames() int { return cs.frames }

// At returns chunk i.
func (cs Chunks) At(i int) Chunk {
	off := i * cs.frames
	n := min(cs.frames, cs.buf.Frames()-off)
	return Chunk{
		Buffer: cs.buf,
		Source: cs.source,
		Index:  i,
		Offset: off,
		Length: n,
	}
}

// All yields the chunks in ascending offset order. The sequence can be
// iterated any number of times.
func (cs Chunks) All() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for i := 0; i < cs.count; i++ {
			if !yield(cs.At(i)) {
				return
			}
		}
	}
}
