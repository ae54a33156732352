package audio

import "time"

// Standard rates used by the assistant pipeline.
const (
	// CaptureSampleRate is the microphone rate expected by the conversational
	// and classification endpoints.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of audio returned by the conversational
	// endpoint.
	PlaybackSampleRate = 24000

	// DefaultFrameSize is the number of samples in one outgoing frame.
	DefaultFrameSize = 256
)

// Frame is a fixed-length block of mono linear-PCM samples flowing from the
// microphone towards the network. Samples are floats in [-1, 1].
//
// A Frame owns its Samples slice; producers never reuse the backing array
// after handing the frame off.
type Frame struct {
	// Samples holds exactly one frame worth of mono audio.
	Samples []float32

	// SampleRate in Hz (16000 for capture).
	SampleRate int

	// Seq is the zero-based production index of this frame within its stream.
	Seq uint64

	// Timestamp marks the frame start relative to the first captured sample.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration returns how long n mono samples last at rate Hz.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
