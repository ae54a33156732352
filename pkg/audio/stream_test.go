package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/audio/mock"
)

func TestOpenStream_CaptureError(t *testing.T) {
	t.Parallel()

	denied := errors.New("permission denied")
	mic := &mock.Capturer{CaptureError: denied}
	if _, err := audio.OpenStream(context.Background(), mic, audio.CaptureConfig{}); !errors.Is(err, denied) {
		t.Fatalf("OpenStream error = %v, want %v", err, denied)
	}
}

func TestStream_FanOutAndRefcount(t *testing.T) {
	t.Parallel()

	mic := &mock.Capturer{}
	stream, err := audio.OpenStream(context.Background(), mic, audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	var a, b int
	subA, err := stream.Subscribe(func(s []float32) { a += len(s) })
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	subB, err := stream.Subscribe(func(s []float32) { b += len(s) })
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}

	mic.Emit(make([]float32, 10))
	if a != 10 || b != 10 {
		t.Fatalf("fan-out: a=%d b=%d, want 10 each", a, b)
	}

	subA.Release()
	if err := stream.Stop(); !errors.Is(err, audio.ErrStreamInUse) {
		t.Fatalf("Stop with live subscriber: err = %v, want ErrStreamInUse", err)
	}
	if mic.Tracks()[0].Stopped() {
		t.Fatal("track stopped while a subscriber still held the stream")
	}

	mic.Emit(make([]float32, 5))
	if a != 10 || b != 15 {
		t.Errorf("after release: a=%d b=%d, want 10 and 15", a, b)
	}

	subB.Release()
	subB.Release()
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := stream.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := mic.Tracks()[0].CallCountStop; got != 1 {
		t.Errorf("track Stop calls = %d, want 1", got)
	}
	if _, err := stream.Subscribe(func([]float32) {}); !errors.Is(err, audio.ErrStreamClosed) {
		t.Errorf("Subscribe after Stop: err = %v, want ErrStreamClosed", err)
	}
}

func TestStream_ReleaseDoesNotWaitForDelivery(t *testing.T) {
	t.Parallel()

	mic := &mock.Capturer{}
	stream, err := audio.OpenStream(context.Background(), mic, audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	entered := make(chan struct{})
	hold := make(chan struct{})
	slow, err := stream.Subscribe(func([]float32) {
		close(entered)
		<-hold
	})
	if err != nil {
		t.Fatalf("Subscribe slow: %v", err)
	}
	other, err := stream.Subscribe(func([]float32) {})
	if err != nil {
		t.Fatalf("Subscribe other: %v", err)
	}

	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		mic.Emit(make([]float32, 256))
	}()
	<-entered

	released := make(chan error, 1)
	go func() {
		other.Release()
		slow.Release()
		released <- stream.Stop()
	}()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Release blocked behind a callback in progress")
	}

	close(hold)
	<-emitted
	if !mic.Tracks()[0].Stopped() {
		t.Error("track not stopped")
	}
}

func TestStream_CloseForcesStop(t *testing.T) {
	t.Parallel()

	mic := &mock.Capturer{}
	stream, err := audio.OpenStream(context.Background(), mic, audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	var got int
	if _, err := stream.Subscribe(func(s []float32) { got += len(s) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := stream.Stop(); !errors.Is(err, audio.ErrStreamInUse) {
		t.Fatalf("Stop err = %v, want ErrStreamInUse", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n := mic.Tracks()[0].CallCountStop; n != 1 {
		t.Errorf("track Stop calls = %d, want 1", n)
	}
	if n := stream.Refs(); n != 0 {
		t.Errorf("refs after Close = %d, want 0", n)
	}
	if err := stream.Stop(); err != nil {
		t.Errorf("Stop after Close: %v", err)
	}
	if _, err := stream.Subscribe(func([]float32) {}); !errors.Is(err, audio.ErrStreamClosed) {
		t.Errorf("Subscribe after Close: err = %v, want ErrStreamClosed", err)
	}
}

func TestStream_CloseReportsTrackError(t *testing.T) {
	t.Parallel()

	busy := errors.New("device busy")
	mic := &mock.Capturer{StopError: busy}
	stream, err := audio.OpenStream(context.Background(), mic, audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := stream.Close(); !errors.Is(err, busy) {
		t.Errorf("Close err = %v, want %v", err, busy)
	}
}
