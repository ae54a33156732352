package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/pkg/audio"
)

// Segment is one scheduled chunk of remote speech.
type Segment struct {
	// ID identifies the segment within its scheduler.
	ID uint64

	// Start is the playback clock position the segment was scheduled at.
	Start time.Duration

	// Duration is the length of the decoded audio.
	Duration time.Duration

	voice audio.Voice
}

// End returns the clock position just after the last sample.
func (s Segment) End() time.Duration { return s.Start + s.Duration }

// Scheduler queues decoded segments on an [audio.Player] back to back. Each new
// segment starts at max(watermark, clock) and advances the watermark by its
// duration, so playback is gapless and never overlaps. Interrupt stops every
// live segment and resets the watermark to zero.
//
// The watermark and live set are updated under one mutex, so scheduling,
// interruption and segment completion may interleave freely.
type Scheduler struct {
	player  audio.Player
	metrics *observe.Metrics

	mu        sync.Mutex
	watermark time.Duration
	live      map[uint64]*Segment
	nextID    uint64
}

// NewScheduler returns a Scheduler rendering on p. m may be nil.
func NewScheduler(p audio.Player, m *observe.Metrics) *Scheduler {
	return &Scheduler{
		player:  p,
		metrics: m,
		live:    make(map[uint64]*Segment),
	}
}

// Schedule decodes little-endian PCM16 mono audio at rate Hz and queues it for
// playback. Audio at a rate other than the player's is resampled first.
func (s *Scheduler) Schedule(pcm []byte, rate int) (Segment, error) {
	if len(pcm) < 2 {
		return Segment{}, errors.New("session: schedule: empty audio chunk")
	}
	out := s.player.SampleRate()
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	if rate != out {
		pcm = audio.ResampleMono16(pcm, rate, out)
	}
	samples := audio.PCM16ToFloat32(pcm)
	dur := audio.SamplesDuration(len(samples), out)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.player.Now()
	start := max(s.watermark, now)
	id := s.nextID
	s.nextID++

	voice, err := s.player.Play(start, samples, func() { s.ended(id) })
	if err != nil {
		return Segment{}, fmt.Errorf("session: schedule: %w", err)
	}

	seg := &Segment{ID: id, Start: start, Duration: dur, voice: voice}
	s.watermark = start + dur
	s.live[id] = seg

	s.metrics.RecordSegment(context.Background(), (start - now).Seconds())
	return *seg, nil
}

// ended removes a finished segment from the live set. Segments already
// dropped by Interrupt are ignored.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
}

// Interrupt stops and discards every live segment and resets the watermark so
// the next segment plays as soon as it arrives. It returns the number of
// segments stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.live)
	for id, seg := range s.live {
		seg.voice.Stop()
		delete(s.live, id)
	}
	s.watermark = 0
	return n
}

// Live returns the number of segments scheduled and not yet finished.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Watermark returns the end position of the last scheduled segment, or zero
// after an interruption.
func (s *Scheduler) Watermark() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}
