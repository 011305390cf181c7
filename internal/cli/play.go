package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/sink"
	"github.com/satindergrewal/deckd/internal/transport"
)

type deckFlags struct {
	seek float64
	eq   map[string]string
	loop []float64
}

func (f *deckFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.seek, "seek", 0, "start position in seconds")
	cmd.Flags().StringToStringVar(&f.eq, "eq", nil, "chain settings, e.g. --eq low=1.4,filter=2500")
	cmd.Flags().Float64SliceVar(&f.loop, "loop", nil, "repeat the region `start,end` in seconds")
}

// prepare loads ref into d and applies the flags. The deck is left paused
// at --seek.
func (f *deckFlags) prepare(ctx context.Context, d *deck.Deck, ref string, timeout time.Duration) error {
	eq, err := parseEQ(f.eq)
	if err != nil {
		return err
	}
	if len(f.loop) != 0 && len(f.loop) != 2 {
		return fmt.Errorf("--loop wants start,end; got %v", f.loop)
	}
	if err := applyEQ(d, eq); err != nil {
		return err
	}
	if _, err := loadAndWait(ctx, d, ref, timeout); err != nil {
		return err
	}
	if len(f.loop) == 2 {
		for _, at := range f.loop {
			if _, err := d.Seek(at); err != nil {
				return err
			}
			if _, err := d.SetLoopPoint(); err != nil {
				return err
			}
		}
	}
	if _, err := d.Seek(f.seek); err != nil {
		return err
	}
	return nil
}

// start begins playback, repeating the loop region when one was given.
func (f *deckFlags) start(d *deck.Deck) error {
	if len(f.loop) == 2 {
		return d.PlayLoop()
	}
	_, err := d.PlayPause()
	return err
}

func newPlayCommand(a *app) *cobra.Command {
	var f deckFlags
	cmd := &cobra.Command{
		Use:   "play <ref>",
		Short: "Play one source on the local audio device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.play(cmd.Context(), args[0], &f)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) play(ctx context.Context, ref string, f *deckFlags) error {
	dev, err := sink.Open(a.cfg.DeviceBuffer, a.log.Named("device"))
	if err != nil {
		return err
	}
	defer dev.Close()

	dec, err := a.decoder()
	if err != nil {
		return err
	}
	d, err := deck.New("play", dec, deck.WithLogger(a.log), deck.WithSink(dev))
	if err != nil {
		return err
	}
	defer d.Destroy()

	if err := f.prepare(ctx, d, ref, a.cfg.LoadTimeout); err != nil {
		return err
	}
	if err := f.start(d); err != nil {
		return err
	}
	a.log.Info("playing", zap.String("ref", ref))

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := d.Status().Transport
			if snap.State == transport.Paused && snap.Position >= snap.Duration {
				a.log.Info("finished", zap.String("ref", ref))
				return nil
			}
		}
	}
}
