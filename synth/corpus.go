package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-chainlink/audio"
)

// CorpusOptions configures LoadCorpus.
type CorpusOptions struct {
	ChunkMs   int
	Extractor Extractor
	Workers   int
	Logger    *slog.Logger
}

// Corpus holds every donor chunk with its descriptor.
type Corpus struct {
	Sources []string // donor paths in enumeration order
	Skipped []string // donor paths that could not be decoded
	Entries []Entry
}

// LoadCorpus decodes, chunks and describes every donor in paths. A donor's
// file index is its position in paths. Undecodable donors are logged and
// skipped; an invalid chunk size is fatal because it applies to every file.
func LoadCorpus(ctx context.Context, paths []string, opts CorpusOptions) (*Corpus, error) {
	if opts.Extractor == nil {
		return nil, errors.New("corpus: nil extractor")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := max(opts.Workers, 1)

	perFile := make([][]Entry, len(paths))
	failed := make([]bool, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf, err := audio.ReadWAV(path)
			if err != nil {
				logger.Warn("skipping donor", slog.String("file", filepath.Base(path)), slog.String("error", err.Error()))
				failed[i] = true
				return nil
			}
			chunks, err := SplitDuration(buf, i, opts.ChunkMs)
			if err != nil {
				return fmt.Errorf("donor %s: %w", filepath.Base(path), err)
			}
			entries := make([]Entry, 0, chunks.Len())
			for c := range chunks.All() {
				entries = append(entries, Entry{Chunk: c, Descriptor: opts.Extractor.Extract(c)})
			}
			perFile[i] = entries
			logger.Info("indexed donor",
				slog.String("file", buf.Name),
				slog.Int("chunks", len(entries)),
				slog.Int("sample_rate", buf.SampleRate),
				slog.Int("channels", buf.NumChannels()),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Corpus{Sources: paths}
	for i, entries := range perFile {
		if failed[i] {
			c.Skipped = append(c.Skipped, paths[i])
		}
		c.Entries = append(c.Entries, entries...)
	}
	if len(c.Entries) == 0 {
		return nil, ErrEmptyCorpus
	}
	return c, nil
}

// Index builds a search index over the corpus entries.
func (c *Corpus) Index(kind IndexKind) (*Index, error) {
	return NewIndex(c.Entries, kind)
}

// Reweighted returns the entries with every descriptor scaled by w.
func (c *Corpus) Reweighted(w Weights) ([]Entry, error) {
	out := make([]Entry, len(c.Entries))
	for i, e := range c.Entries {
		if len(w) != len(e.Descriptor) {
			return nil, fmt.Errorf("got %d weights for %d-dimensional descriptors", len(w), len(e.Descriptor))
		}
		out[i] = Entry{Chunk: e.Chunk, Descriptor: w.Apply(e.Descriptor)}
	}
	return out, nil
}
