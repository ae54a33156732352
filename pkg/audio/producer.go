package audio

import (
	"errors"
	"sync"
)

// ErrProducerConnected is returned by [Producer.Connect] when the producer is
// already attached to a stream.
var ErrProducerConnected = errors.New("audio: producer already connected")

// FrameFunc receives each completed frame. It is called on the capture
// callback goroutine and must not block for long.
type FrameFunc func(Frame)

// Producer accumulates capture samples into fixed-size frames. Whenever the
// buffer fills, an independent copy is handed to the FrameFunc and the
// accumulation index restarts at zero. Partial frames are never emitted;
// leftover samples are dropped on [Producer.Disconnect].
//
// Producer is safe for concurrent use. Write is typically called from a single
// device goroutine while Connect/Disconnect are called by the session owner.
type Producer struct {
	mu     sync.Mutex // guards the accumulation state
	buf    []float32
	n      int
	seq    uint64
	rate   int
	emit   FrameFunc
	closed bool

	connMu sync.Mutex // guards sub; never held while mu is held
	sub    *Subscription
}

// ProducerOption is a functional option for [NewProducer].
type ProducerOption func(*Producer)

// WithFrameSize sets the frame capacity in samples. Default: [DefaultFrameSize].
func WithFrameSize(n int) ProducerOption {
	return func(p *Producer) {
		if n > 0 {
			p.buf = make([]float32, n)
		}
	}
}

// WithSampleRate sets the rate stamped on emitted frames. Default:
// [CaptureSampleRate].
func WithSampleRate(rate int) ProducerOption {
	return func(p *Producer) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// NewProducer creates a Producer that hands every full frame to emit.
func NewProducer(emit FrameFunc, opts ...ProducerOption) *Producer {
	p := &Producer{
		buf:  make([]float32, DefaultFrameSize),
		rate: CaptureSampleRate,
		emit: emit,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FrameSize returns the configured frame capacity.
func (p *Producer) FrameSize() int {
	return len(p.buf)
}

// Write appends samples to the accumulation buffer, emitting a frame every
// time it fills. Writes after Disconnect are ignored.
func (p *Producer) Write(samples []float32) {
	var ready []Frame

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for len(samples) > 0 {
		c := copy(p.buf[p.n:], samples)
		p.n += c
		samples = samples[c:]
		if p.n < len(p.buf) {
			break
		}
		out := make([]float32, len(p.buf))
		copy(out, p.buf)
		ready = append(ready, Frame{
			Samples:    out,
			SampleRate: p.rate,
			Seq:        p.seq,
			Timestamp:  SamplesDuration(int(p.seq)*len(p.buf), p.rate),
		})
		p.seq++
		p.n = 0
	}
	emit := p.emit
	p.mu.Unlock()

	// Emit outside the lock so a slow consumer cannot stall Disconnect.
	for _, f := range ready {
		if emit != nil {
			emit(f)
		}
	}
}

// Connect subscribes the producer to s. The producer holds one reference on
// the stream until [Producer.Disconnect].
func (p *Producer) Connect(s *Stream) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.sub != nil {
		return ErrProducerConnected
	}

	p.mu.Lock()
	p.closed = false
	p.n = 0
	p.mu.Unlock()

	sub, err := s.Subscribe(p.Write)
	if err != nil {
		return err
	}
	p.sub = sub
	return nil
}

// Disconnect detaches the producer from its stream, releases its stream
// reference and drops any partially accumulated frame. Disconnect is
// idempotent.
func (p *Producer) Disconnect() {
	p.connMu.Lock()
	sub := p.sub
	p.sub = nil
	p.connMu.Unlock()

	if sub != nil {
		sub.Release()
	}

	p.mu.Lock()
	p.closed = true
	p.n = 0
	p.mu.Unlock()
}
