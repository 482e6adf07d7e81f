package audio

import "testing"

func TestBufferMono(t *testing.T) {
	b := NewBuffer(8000, 16, 2, 4)
	copy(b.Channels[0], []float64{1, 0, 1, 0})
	copy(b.Channels[1], []float64{0, 0, -1, 1})

	got := b.Mono(1, 3)
	want := []float64{0, 0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Mono(1, 3) = %v, want %v", got, want)
		}
	}
}

func TestBufferFramesOnEmpty(t *testing.T) {
	var b *Buffer
	if b.Frames() != 0 || b.NumChannels() != 0 {
		t.Fatal("nil buffer should report zero frames and channels")
	}
	if (&Buffer{}).Frames() != 0 {
		t.Fatal("channel-less buffer should report zero frames")
	}
}
