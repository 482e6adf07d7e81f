package synth

import (
	"context"

	"github.com/cwbudde/algo-chainlink/audio"
)

// Synthesizer rebuilds one target recording from the corpus.
type Synthesizer struct {
	ChunkMs   int
	Matcher   *Matcher
	Assembler *Assembler
}

// Synthesize chunks target, matches every chunk and assembles the output.
// The returned matches follow target chunk order.
func (s *Synthesizer) Synthesize(ctx context.Context, target *audio.Buffer) (*audio.Buffer, []MatchResult, error) {
	chunks, err := SplitDuration(target, 0, s.ChunkMs)
	if err != nil {
		return nil, nil, err
	}
	matches, err := s.Matcher.MatchAll(ctx, chunks)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.Assembler.Assemble(target, matches)
	if err != nil {
		return nil, nil, err
	}
	return out, matches, nil
}
