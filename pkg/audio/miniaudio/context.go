// Package miniaudio implements the [audio.Capturer] and [audio.Player]
// interfaces on top of the miniaudio library via malgo.
//
// Capture first tries a low-latency device profile whose period matches the
// frame size; if the device refuses that configuration it falls back to the
// conservative profile with the backend's default period. Playback mixes every
// scheduled voice against a sample-accurate clock derived from the number of
// frames rendered by the device.
package miniaudio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// audioContext owns one malgo context. It is shared by a Capturer or a Player
// and released exactly once.
type audioContext struct {
	ctx  *malgo.AllocatedContext
	once sync.Once
}

func newAudioContext(log *slog.Logger) (*audioContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &audioContext{ctx: ctx}, nil
}

func (a *audioContext) close() error {
	var err error
	a.once.Do(func() {
		if e := a.ctx.Uninit(); e != nil {
			err = fmt.Errorf("miniaudio: uninit context: %w", e)
		}
		a.ctx.Free()
	})
	return err
}
