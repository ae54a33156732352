package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/gen2brain/malgo"
)

var _ audio.Capturer = (*Capturer)(nil)

// Option is a functional option for [NewCapturer] and [NewPlayer].
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Capturer opens microphone tracks on the default (or named) input device.
type Capturer struct {
	actx *audioContext
	log  *slog.Logger
}

// NewCapturer allocates the input audio context.
func NewCapturer(opts ...Option) (*Capturer, error) {
	o := buildOptions(opts)
	actx, err := newAudioContext(o.log)
	if err != nil {
		return nil, err
	}
	return &Capturer{actx: actx, log: o.log}, nil
}

// Capture implements [audio.Capturer].
func (c *Capturer) Capture(_ context.Context, cfg audio.CaptureConfig, fn audio.SampleFunc) (audio.Track, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.CaptureSampleRate
	}
	if cfg.PeriodFrames <= 0 {
		cfg.PeriodFrames = audio.DefaultFrameSize
	}

	id, err := findDevice(c.actx.ctx, malgo.Capture, cfg.Device)
	if err != nil {
		return nil, err
	}

	t := &track{fn: fn}
	dev, err := c.initDevice(cfg, id, t, malgo.LowLatency, uint32(cfg.PeriodFrames))
	if err == nil {
		err = dev.Start()
		if err != nil {
			dev.Uninit()
		}
	}
	if err != nil {
		c.log.Warn("miniaudio: low-latency capture unavailable, falling back", "err", err)
		t.mode = audio.CaptureFallback
		dev, err = c.initDevice(cfg, id, t, malgo.Conservative, 0)
		if err != nil {
			return nil, fmt.Errorf("miniaudio: init capture device: %w", err)
		}
		if err := dev.Start(); err != nil {
			dev.Uninit()
			return nil, fmt.Errorf("miniaudio: start capture device: %w", err)
		}
	}
	t.dev = dev

	c.log.Info("miniaudio: capture started", "mode", t.mode, "rate", cfg.SampleRate, "device", cfg.Device)
	return t, nil
}

func (c *Capturer) initDevice(cfg audio.CaptureConfig, id *malgo.DeviceID, t *track, profile malgo.PerformanceProfile, period uint32) (*malgo.Device, error) {
	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = 1
	if id != nil {
		dc.Capture.DeviceID = id.Pointer()
	}
	dc.Alsa.NoMMap = 1
	dc.PerformanceProfile = profile
	if period > 0 {
		dc.PeriodSizeInFrames = period
		dc.Periods = 3
	}

	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16)
	return malgo.InitDevice(c.actx.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			t.deliver(audio.PCM16ToFloat32(pInput[:n]))
		},
	})
}

// Close implements [audio.Capturer].
func (c *Capturer) Close() error {
	return c.actx.close()
}

// track is one running capture device.
type track struct {
	mu      sync.Mutex
	dev     *malgo.Device
	fn      audio.SampleFunc
	mode    audio.CaptureMode
	stopped bool
}

func (t *track) deliver(samples []float32) {
	t.mu.Lock()
	fn, stopped := t.fn, t.stopped
	t.mu.Unlock()
	if !stopped && fn != nil {
		fn(samples)
	}
}

func (t *track) Mode() audio.CaptureMode { return t.mode }

func (t *track) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	if err != nil {
		return fmt.Errorf("miniaudio: stop capture device: %w", err)
	}
	return nil
}

// findDevice resolves a device by name. An empty name selects the default.
func findDevice(ctx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (*malgo.DeviceID, error) {
	if name == "" {
		return nil, nil
	}
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list devices: %w", err)
	}
	names := make([]string, len(infos))
	for i := range infos {
		names[i] = infos[i].Name()
	}
	i := matchDevice(names, name)
	if i < 0 {
		return nil, fmt.Errorf("miniaudio: device %q not found", name)
	}
	id := infos[i].ID
	return &id, nil
}

// matchDevice returns the index of the device called want, or else of the
// first device whose name contains want ignoring case. It returns -1 when
// nothing matches.
func matchDevice(names []string, want string) int {
	if i := slices.Index(names, want); i >= 0 {
		return i
	}
	want = strings.ToLower(want)
	return slices.IndexFunc(names, func(n string) bool {
		return strings.Contains(strings.ToLower(n), want)
	})
}
