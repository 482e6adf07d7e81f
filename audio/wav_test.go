package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

func TestWAVRoundTripPreservesLayout(t *testing.T) {
	for _, depth := range []int{16, 24, 32} {
		t.Run(fmt.Sprintf("%d-bit", depth), func(t *testing.T) {
			src := NewBuffer(22050, depth, 2, 1000)
			for i := 0; i < src.Frames(); i++ {
				src.Channels[0][i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/22050)
				src.Channels[1][i] = -0.25
			}
			path := filepath.Join(t.TempDir(), "rt.wav")
			if err := WriteWAV(path, src); err != nil {
				t.Fatalf("WriteWAV() error: %v", err)
			}
			got, err := ReadWAV(path)
			if err != nil {
				t.Fatalf("ReadWAV() error: %v", err)
			}
			if !got.SameLayout(src) {
				t.Fatalf("layout mismatch: got %s, want %s", got, src)
			}
			if got.Name != "rt.wav" {
				t.Fatalf("Name = %q, want rt.wav", got.Name)
			}
			// float32 transport bounds precision at the deeper depths.
			tol := max(2.0/fullScale(depth), 1e-6)
			for c := range src.Channels {
				for i := range src.Channels[c] {
					if d := math.Abs(got.Channels[c][i] - src.Channels[c][i]); d > tol {
						t.Fatalf("ch%d[%d] = %f, want %f", c, i, got.Channels[c][i], src.Channels[c][i])
					}
				}
			}
		})
	}
}

func TestWriteWAVClipsOutOfRange(t *testing.T) {
	src := NewBuffer(8000, 16, 1, 4)
	copy(src.Channels[0], []float64{2, -2, 1, -1})
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := WriteWAV(path, src); err != nil {
		t.Fatalf("WriteWAV() error: %v", err)
	}
	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV() error: %v", err)
	}
	for i, v := range got.Channels[0] {
		if math.Abs(v) > 1+2.0/fullScale(16) {
			t.Fatalf("sample %d = %f escaped [-1, 1]", i, v)
		}
	}
}

func TestReadWAVKeepsFullScaleLevel(t *testing.T) {
	tests := []struct {
		depth int
		level float32
	}{
		{16, 0.5},
		{16, -0.25},
		{24, 0.5},
		{32, 0.75},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d-bit %.2f", tc.depth, tc.level), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "level.wav")
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			data := make([]float32, 64)
			for i := range data {
				data[i] = tc.level
			}
			enc := wav.NewEncoder(f, 8000, tc.depth, 1, formatPCM)
			buf := &goaudio.Float32Buffer{
				Format:         &goaudio.Format{SampleRate: 8000, NumChannels: 1},
				Data:           data,
				SourceBitDepth: tc.depth,
			}
			if err := enc.Write(buf); err != nil {
				t.Fatalf("encoder Write() error: %v", err)
			}
			if err := enc.Close(); err != nil {
				t.Fatalf("encoder Close() error: %v", err)
			}
			if err := f.Close(); err != nil {
				t.Fatal(err)
			}

			got, err := ReadWAV(path)
			if err != nil {
				t.Fatalf("ReadWAV() error: %v", err)
			}
			if got.Frames() != len(data) {
				t.Fatalf("Frames() = %d, want %d", got.Frames(), len(data))
			}
			for i, v := range got.Channels[0] {
				if math.Abs(v-float64(tc.level)) > 1e-3 {
					t.Fatalf("sample %d = %g, want %g", i, v, tc.level)
				}
			}
		})
	}
}

func TestWriteWAVLevelSurvivesRoundTrip(t *testing.T) {
	src := NewBuffer(8000, 16, 1, 32)
	for i := range src.Channels[0] {
		src.Channels[0][i] = 0.5
	}
	path := filepath.Join(t.TempDir(), "half.wav")
	if err := WriteWAV(path, src); err != nil {
		t.Fatalf("WriteWAV() error: %v", err)
	}
	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV() error: %v", err)
	}
	for i, v := range got.Channels[0] {
		if math.Abs(v-0.5) > 1e-3 {
			t.Fatalf("sample %d = %g, want 0.5", i, v)
		}
	}
}

func TestWriteWAVRemovesPartialFile(t *testing.T) {
	orig := createFile
	t.Cleanup(func() { createFile = orig })
	// A read-only handle makes every encoder write fail after the file exists.
	createFile = func(name string) (*os.File, error) {
		f, err := os.Create(name)
		if err != nil {
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		return os.Open(name)
	}

	src := NewBuffer(8000, 16, 1, 256)
	path := filepath.Join(t.TempDir(), "out", "partial.wav")
	if err := WriteWAV(path, src); err == nil {
		t.Fatal("expected write error through a read-only handle")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("partial output left behind: stat error = %v", err)
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("definitely not a riff stream"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadWAV(path)
	if err == nil {
		t.Fatal("expected error for corrupt wav")
	}
	if !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("error = %v, want ErrInvalidWAV", err)
	}
}

func TestWriteWAVRejectsUnsupportedDepth(t *testing.T) {
	src := NewBuffer(8000, 12, 1, 4)
	err := WriteWAV(filepath.Join(t.TempDir(), "x.wav"), src)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestListWAVsIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wav", "a.WAV", "notes.txt", "c.wav.bak"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListWAVs(dir)
	if err != nil {
		t.Fatalf("ListWAVs() error: %v", err)
	}
	want := []string{filepath.Join(dir, "a.WAV"), filepath.Join(dir, "b.wav")}
	if len(got) != len(want) {
		t.Fatalf("ListWAVs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListWAVs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHasWAV(t *testing.T) {
	empty := t.TempDir()
	if err := os.WriteFile(filepath.Join(empty, "readme.md"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := HasWAV(empty)
	if err != nil || ok {
		t.Fatalf("HasWAV(no wavs) = %v, %v; want false, nil", ok, err)
	}

	full := t.TempDir()
	if err := os.WriteFile(filepath.Join(full, "x.wav"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err = HasWAV(full)
	if err != nil || !ok {
		t.Fatalf("HasWAV(with wav) = %v, %v; want true, nil", ok, err)
	}

	if _, err := HasWAV(filepath.Join(full, "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
