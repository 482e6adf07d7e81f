package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cwbudde/algo-chainlink/analysis"
	"github.com/cwbudde/algo-chainlink/audio"
	"github.com/cwbudde/algo-chainlink/preset"
	"github.com/cwbudde/algo-chainlink/synth"
)

type renderOptions struct {
	corpusDir   string
	chunkMs     int
	features    string
	weightsPath string
	crossfadeMs float64
}

func main() {
	referencePath := flag.String("reference", "", "Target WAV path")
	candidatePath := flag.String("candidate", "", "Reconstruction WAV path; if empty, synthesize one from --corpus")
	corpusDir := flag.String("corpus", "", "Donor directory for a synthesized candidate")
	chunkMs := flag.Int("chunk_size", 100, "Chunk size in milliseconds for a synthesized candidate")
	features := flag.String("features", synth.FeaturesSpectral, "Descriptor extractor for a synthesized candidate")
	weightsPath := flag.String("weights", "", "Optional weight preset JSON for a synthesized candidate")
	crossfadeMs := flag.Float64("crossfade-ms", 5, "Crossfade in ms for a synthesized candidate")
	writeCandidate := flag.String("write-candidate", "", "Optional path to write the synthesized candidate WAV")
	jsonOut := flag.Bool("json", false, "Print metrics as JSON")
	flag.Parse()

	if *referencePath == "" {
		die("--reference is required")
	}
	ref, err := audio.ReadWAV(*referencePath)
	if err != nil {
		die("failed to read reference: %v", err)
	}

	var cand *audio.Buffer
	if *candidatePath != "" {
		cand, err = audio.ReadWAV(*candidatePath)
		if err != nil {
			die("failed to read candidate: %v", err)
		}
	} else {
		cand, err = renderCandidate(context.Background(), ref, renderOptions{
			corpusDir:   *corpusDir,
			chunkMs:     *chunkMs,
			features:    *features,
			weightsPath: *weightsPath,
			crossfadeMs: *crossfadeMs,
		})
		if err != nil {
			die("failed to synthesize candidate: %v", err)
		}
		if *writeCandidate != "" {
			if err := audio.WriteWAV(*writeCandidate, cand); err != nil {
				die("failed to write candidate wav: %v", err)
			}
		}
	}

	metrics, err := analysis.CompareBuffers(ref, cand)
	if err != nil {
		die("compare failed: %v", err)
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(metrics); err != nil {
			die("json encode failed: %v", err)
		}
		return
	}
	printMetrics(os.Stdout, metrics)
}

// renderCandidate rebuilds ref from the wavs in opts.corpusDir.
func renderCandidate(ctx context.Context, ref *audio.Buffer, opts renderOptions) (*audio.Buffer, error) {
	if opts.corpusDir == "" {
		return nil, fmt.Errorf("--corpus is required without --candidate")
	}
	var (
		ex  synth.Extractor
		err error
	)
	crossfade := opts.crossfadeMs
	if opts.weightsPath != "" {
		p, perr := preset.LoadJSON(opts.weightsPath)
		if perr != nil {
			return nil, perr
		}
		ex, err = p.Extractor()
		crossfade = p.CrossfadeMs
	} else {
		ex, err = synth.NewExtractor(opts.features)
	}
	if err != nil {
		return nil, err
	}

	donors, err := audio.ListWAVs(opts.corpusDir)
	if err != nil {
		return nil, err
	}
	corpus, err := synth.LoadCorpus(ctx, donors, synth.CorpusOptions{ChunkMs: opts.chunkMs, Extractor: ex, Workers: 2})
	if err != nil {
		return nil, err
	}
	index, err := corpus.Index(synth.IndexKDTree)
	if err != nil {
		return nil, err
	}
	s := &synth.Synthesizer{
		ChunkMs:   opts.chunkMs,
		Matcher:   synth.NewMatcher(ex, index),
		Assembler: synth.NewAssembler(time.Duration(crossfade * float64(time.Millisecond))),
	}
	out, _, err := s.Synthesize(ctx, ref)
	return out, err
}

func printMetrics(w io.Writer, metrics analysis.Metrics) {
	fmt.Fprintf(w, "Reference frames: %d\n", metrics.ReferenceFrames)
	fmt.Fprintf(w, "Candidate frames: %d\n", metrics.CandidateFrames)
	fmt.Fprintf(w, "Compared frames:  %d @ %d Hz\n", metrics.ComparedFrames, metrics.SampleRate)
	fmt.Fprintf(w, "SNR:              %.1f dB\n", metrics.SNRDB)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Component        Raw          Norm   Weight  Contribution\n")
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	printComp := func(name string, raw string, norm, weight float64, dominant bool) {
		contrib := norm * weight
		marker := ""
		if dominant {
			marker = " ◄"
		}
		fmt.Fprintf(w, "%-16s %-12s %5.1f%%  ×%.2f   → %.4f%s\n", name, raw, norm*100, weight, contrib, marker)
	}
	printComp("Time RMSE", fmt.Sprintf("%.6f", metrics.TimeRMSE), metrics.TimeNorm, analysis.WeightTime, metrics.Dominant == "time")
	printComp("Envelope RMSE", fmt.Sprintf("%.1f dB", metrics.EnvelopeRMSEDB), metrics.EnvelopeNorm, analysis.WeightEnvelope, metrics.Dominant == "envelope")
	printComp("Spectral RMSE", fmt.Sprintf("%.1f dB", metrics.SpectralRMSEDB), metrics.SpectralNorm, analysis.WeightSpectral, metrics.Dominant == "spectral")
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Score:            %.4f  (0 best, 1 worst)\n", metrics.Score)
	fmt.Fprintf(w, "Similarity:       %.2f%%\n", metrics.Similarity*100.0)
	fmt.Fprintf(w, "Dominant factor:  %s\n", metrics.Dominant)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
