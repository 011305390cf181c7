package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/source"
)

func newRenderCommand(a *app) *cobra.Command {
	var (
		f        deckFlags
		output   string
		duration float64
	)
	cmd := &cobra.Command{
		Use:   "render <ref>",
		Short: "Render a source through the deck chain to a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.render(cmd.Context(), args[0], output, duration, &f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "deck.wav", "output WAV file")
	cmd.Flags().Float64Var(&duration, "duration", 0, "seconds to render (default: to the end of the source)")
	return cmd
}

func (a *app) render(ctx context.Context, ref, output string, duration float64, f *deckFlags) error {
	dec, err := a.decoder()
	if err != nil {
		return err
	}
	d, err := deck.New("render", dec, deck.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer d.Destroy()

	if err := f.prepare(ctx, d, ref, a.cfg.LoadTimeout); err != nil {
		return err
	}
	snap := d.Status().Transport
	if duration <= 0 {
		if len(f.loop) == 2 {
			return fmt.Errorf("--duration is required with --loop")
		}
		duration = snap.Duration - snap.Position
	}
	if err := f.start(d); err != nil {
		return err
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	n := audio.Samples(duration)
	if err := wav.Encode(file, beep.Take(n, d.Output()), source.Format); err != nil {
		file.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	a.log.Info("rendered",
		zap.String("ref", ref),
		zap.String("output", output),
		zap.Float64("seconds", audio.Seconds(n)),
	)
	return nil
}
