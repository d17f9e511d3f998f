package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const otoBufferSize = 20 * time.Millisecond

var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoRate    int
	otoErr     error
)

// oto, like ebiten, supports one context per process. The ready channel is
// drained in the background so opening never blocks on a user gesture; the
// engine's Resume waits for the first pull instead.
func sharedOtoContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		otoRate = sampleRate
		var ready chan struct{}
		otoContext, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
			BufferSize:   otoBufferSize,
		})
		if otoErr != nil {
			otoErr = fmt.Errorf("cannot create oto context: %w", otoErr)
			return
		}
		go func() { <-ready }()
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("oto context already initialized at %d Hz (requested %d Hz)", otoRate, sampleRate)
	}
	return otoContext, nil
}

type otoOutput struct {
	player *oto.Player
	reader *StreamReader
}

func NewOtoOutput(sampleRate int, source SampleSource) (Output, error) {
	ctx, err := sharedOtoContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	return &otoOutput{player: ctx.NewPlayer(reader), reader: reader}, nil
}

func (o *otoOutput) Play()  { o.player.Play() }
func (o *otoOutput) Pause() { o.player.Pause() }

func (o *otoOutput) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return o.reader.Close()
}
