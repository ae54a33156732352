package miniaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/gen2brain/malgo"
)

var _ audio.Player = (*Player)(nil)

// ErrPlayerClosed is returned by [Player.Play] after Close.
var ErrPlayerClosed = errors.New("miniaudio: player closed")

// Player renders scheduled voices on a mono output device. The playback clock
// advances by exactly the number of frames the device consumes, so scheduled
// start positions are sample accurate.
type Player struct {
	actx *audioContext
	dev  *malgo.Device
	log  *slog.Logger
	rate int

	mu     sync.Mutex
	pos    uint64 // frames rendered so far
	voices []*voice
	closed bool
}

// NewPlayer opens the default (or named) output device at sampleRate Hz and
// starts its clock.
func NewPlayer(sampleRate int, device string, opts ...Option) (*Player, error) {
	o := buildOptions(opts)
	if sampleRate <= 0 {
		sampleRate = audio.PlaybackSampleRate
	}
	actx, err := newAudioContext(o.log)
	if err != nil {
		return nil, err
	}

	p := &Player{actx: actx, log: o.log, rate: sampleRate}

	id, err := findDevice(actx.ctx, malgo.Playback, device)
	if err != nil {
		_ = actx.close()
		return nil, err
	}

	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.SampleRate = uint32(sampleRate)
	dc.Playback.Format = malgo.FormatS16
	dc.Playback.Channels = 1
	if id != nil {
		dc.Playback.DeviceID = id.Pointer()
	}
	dc.Alsa.NoMMap = 1
	dc.PeriodSizeInFrames = uint32(sampleRate / 50) // 20 ms
	dc.Periods = 3

	p.dev, err = malgo.InitDevice(actx.ctx.Context, dc, malgo.DeviceCallbacks{Data: p.render})
	if err != nil {
		_ = actx.close()
		return nil, fmt.Errorf("miniaudio: init playback device: %w", err)
	}
	if err := p.dev.Start(); err != nil {
		p.dev.Uninit()
		_ = actx.close()
		return nil, fmt.Errorf("miniaudio: start playback device: %w", err)
	}
	return p, nil
}

// SampleRate implements [audio.Player].
func (p *Player) SampleRate() int { return p.rate }

// Now implements [audio.Player].
func (p *Player) Now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return audio.SamplesDuration(int(p.pos), p.rate)
}

// Play implements [audio.Player].
func (p *Player) Play(at time.Duration, samples []float32, onEnded func()) (audio.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPlayerClosed
	}
	start := uint64(at * time.Duration(p.rate) / time.Second)
	if start < p.pos {
		start = p.pos
	}
	v := &voice{player: p, start: start, samples: samples, onEnded: onEnded}
	p.voices = append(p.voices, v)
	return v, nil
}

// render is the device data callback. It mixes all voices overlapping the
// current period and advances the clock.
func (p *Player) render(out, _ []byte, frameCount uint32) {
	n := int(frameCount)
	mix := make([]float32, n)
	var ended []func()

	p.mu.Lock()
	from := p.pos
	to := from + uint64(n)
	keep := p.voices[:0]
	for _, v := range p.voices {
		end := v.start + uint64(len(v.samples))
		if v.start < to {
			lo := max(v.start, from)
			hi := min(end, to)
			for i := lo; i < hi; i++ {
				mix[i-from] += v.samples[i-v.start]
			}
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		keep = append(keep, v)
	}
	p.voices = keep
	p.pos = to
	p.mu.Unlock()

	pcm := audio.Float32ToPCM16(mix)
	copy(out, pcm)
	for i := len(pcm); i < len(out); i++ {
		out[i] = 0
	}

	if len(ended) > 0 {
		go func() {
			for _, cb := range ended {
				cb()
			}
		}()
	}
}

func (p *Player) remove(v *voice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, o := range p.voices {
		if o == v {
			p.voices = append(p.voices[:i], p.voices[i+1:]...)
			return
		}
	}
}

// Close implements [audio.Player]. It stops the device and releases the
// output audio context.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.voices = nil
	p.mu.Unlock()

	var errs []error
	if err := p.dev.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("miniaudio: stop playback device: %w", err))
	}
	p.dev.Uninit()
	if err := p.actx.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// voice is one scheduled buffer.
type voice struct {
	player  *Player
	start   uint64
	samples []float32
	onEnded func()
	once    sync.Once
}

func (v *voice) Stop() {
	v.once.Do(func() { v.player.remove(v) })
}
