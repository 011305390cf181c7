// Package cli implements the deckd command line.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/chain"
	"github.com/satindergrewal/deckd/internal/config"
	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/logger"
	"github.com/satindergrewal/deckd/internal/transport"
)

// app carries state shared by every subcommand.
type app struct {
	envFiles []string
	cfg      config.Config
	log      *zap.Logger
}

// NewRootCommand builds the deckd command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "deckd",
		Short:         "deckd runs independent DJ decks with EQ, cue points and loops.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFiles...)
			if err != nil {
				return err
			}
			log, err := logger.Init(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "`.env` files to load (default .env)")

	root.AddCommand(
		newServeCommand(a),
		newPlayCommand(a),
		newRenderCommand(a),
		newTracksCommand(a),
	)
	return root
}

// Execute runs the root command with args and returns its error.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// applyEQ sets every name=value pair on d.
func applyEQ(d *deck.Deck, eq map[string]float64) error {
	for name, v := range eq {
		k, err := chain.ParseKey(name)
		if err != nil {
			return err
		}
		if _, err := d.SetEQ(k, v); err != nil {
			return err
		}
	}
	return nil
}

// loadAndWait loads ref into d and waits up to timeout for it.
func loadAndWait(ctx context.Context, d *deck.Deck, ref string, timeout time.Duration) (transport.LoadResult, error) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case r := <-d.Load(lctx, ref):
		return r, r.Err
	case <-lctx.Done():
		return transport.LoadResult{}, fmt.Errorf("load %s: %w", ref, lctx.Err())
	}
}

// parseEQ converts --eq name=value flags.
func parseEQ(flags map[string]string) (map[string]float64, error) {
	eq := make(map[string]float64, len(flags))
	for name, raw := range flags {
		if _, err := chain.ParseKey(name); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("eq %s: %w", name, err)
		}
		eq[name] = v
	}
	return eq, nil
}
