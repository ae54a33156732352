package audio_test

import (
	"context"
	"sync"
	"testing"

	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/audio/mock"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []audio.Frame
}

func (r *frameRecorder) record(f audio.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *frameRecorder) all() []audio.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audio.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func ramp(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i%100) / 100
	}
	return s
}

func TestProducer_FramingCompleteness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		size   int
		chunks []int
	}{
		{name: "exact multiple", size: 256, chunks: []int{512}},
		{name: "leftover dropped", size: 256, chunks: []int{700}},
		{name: "many small callbacks", size: 256, chunks: []int{100, 100, 100, 100, 100, 100}},
		{name: "shorter than one frame", size: 256, chunks: []int{255}},
		{name: "odd sizes", size: 7, chunks: []int{3, 11, 1, 20}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &frameRecorder{}
			p := audio.NewProducer(rec.record, audio.WithFrameSize(tc.size))

			total := 0
			for _, n := range tc.chunks {
				p.Write(ramp(n))
				total += n
			}
			p.Disconnect()

			frames := rec.all()
			if want := total / tc.size; len(frames) != want {
				t.Fatalf("frames = %d, want %d", len(frames), want)
			}
			for i, f := range frames {
				if len(f.Samples) != tc.size {
					t.Errorf("frame %d: len = %d, want %d", i, len(f.Samples), tc.size)
				}
				if f.Seq != uint64(i) {
					t.Errorf("frame %d: seq = %d", i, f.Seq)
				}
				if f.SampleRate != audio.CaptureSampleRate {
					t.Errorf("frame %d: rate = %d", i, f.SampleRate)
				}
			}
		})
	}
}

func TestProducer_FramesAreIndependentCopies(t *testing.T) {
	t.Parallel()

	rec := &frameRecorder{}
	p := audio.NewProducer(rec.record, audio.WithFrameSize(4))

	in := []float32{0.1, 0.2, 0.3, 0.4}
	p.Write(in)
	in[0] = 0.9
	p.Write([]float32{0.5, 0.6, 0.7, 0.8})

	frames := rec.all()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Samples[0] != 0.1 {
		t.Errorf("frame 0 aliased caller input: got %v", frames[0].Samples[0])
	}
	if frames[1].Samples[0] != 0.5 {
		t.Errorf("frame 1 aliased internal buffer: got %v", frames[1].Samples[0])
	}
}

func TestProducer_DisconnectDropsPartialFrame(t *testing.T) {
	t.Parallel()

	mic := &mock.Capturer{}
	stream, err := audio.OpenStream(context.Background(), mic, audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	rec := &frameRecorder{}
	p := audio.NewProducer(rec.record, audio.WithFrameSize(256))
	if err := p.Connect(stream); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := p.Connect(stream); err == nil {
		t.Error("second Connect: expected error")
	}

	mic.Emit(ramp(300))
	p.Disconnect()
	p.Disconnect()
	mic.Emit(ramp(300))

	if got := len(rec.all()); got != 1 {
		t.Errorf("frames = %d, want 1", got)
	}
	if got := stream.Refs(); got != 0 {
		t.Errorf("refs after disconnect = %d, want 0", got)
	}
}
