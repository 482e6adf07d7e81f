package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// ReadWAV decodes a PCM WAV file. The buffer is named after the file's base name.
func ReadWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	b.Name = filepath.Base(path)
	return b, nil
}

// DecodeWAV decodes a 16, 24 or 32-bit PCM WAV stream.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if dec.WavAudioFormat != formatPCM && dec.WavAudioFormat != formatExtensible {
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	depth := int(dec.BitDepth)
	if !SupportedBitDepth(depth) {
		return nil, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, depth)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if pcm == nil || pcm.Format == nil || pcm.Format.NumChannels < 1 || pcm.Format.SampleRate <= 0 {
		return nil, ErrInvalidWAV
	}

	ch := pcm.Format.NumChannels
	frames := len(pcm.Data) / ch
	b := NewBuffer(pcm.Format.SampleRate, depth, ch, frames)
	// FullPCMBuffer already normalizes to [-1, 1].
	for i := 0; i < frames; i++ {
		for c := 0; c < ch; c++ {
			b.Channels[c][i] = float64(pcm.Data[i*ch+c])
		}
	}
	return b, nil
}

var createFile = os.Create

// WriteWAV encodes b as PCM at its own bit depth, creating parent directories.
func WriteWAV(path string, b *Buffer) error {
	if !SupportedBitDepth(b.BitDepth) {
		return fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, b.BitDepth)
	}
	if b.NumChannels() < 1 || b.SampleRate <= 0 {
		return fmt.Errorf("cannot encode empty layout for %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := createFile(path)
	if err != nil {
		return err
	}
	if err := encodeWAV(f, b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func encodeWAV(f *os.File, b *Buffer) error {
	ch := b.NumChannels()
	frames := b.Frames()
	hi := 1 - 1/fullScale(b.BitDepth)
	data := make([]float32, frames*ch)
	for i := 0; i < frames; i++ {
		for c := 0; c < ch; c++ {
			data[i*ch+c] = float32(min(max(b.Channels[c][i], -1), hi))
		}
	}

	enc := wav.NewEncoder(f, b.SampleRate, b.BitDepth, ch, formatPCM)
	buf := &goaudio.Float32Buffer{
		Format: &goaudio.Format{
			SampleRate:  b.SampleRate,
			NumChannels: ch,
		},
		Data:           data,
		SourceBitDepth: b.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// SupportedBitDepth reports whether depth is one of the PCM depths we handle.
func SupportedBitDepth(depth int) bool {
	return depth == 16 || depth == 24 || depth == 32
}

// IsWAVName reports whether name carries a .wav extension.
func IsWAVName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".wav")
}

// ListWAVs returns the .wav files directly inside dir in lexical order.
// Other files and subdirectories are ignored.
func ListWAVs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsWAVName(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// HasWAV reports whether dir contains at least one .wav file.
func HasWAV(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && IsWAVName(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

func fullScale(depth int) float64 {
	return float64(int64(1) << (depth - 1))
}

