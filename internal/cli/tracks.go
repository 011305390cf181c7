package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/deckd/internal/catalog"
)

func newTracksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tracks [query]",
		Short: "List tracks from the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.CatalogURL == "" {
				return errors.New("DECKD_CATALOG_URL is not set")
			}
			c := catalog.NewClient(a.cfg.CatalogURL, a.cfg.CatalogAPIKey, a.log.Named("catalog"))
			tracks, err := c.Tracks(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tARTIST\tURL")
			for _, t := range tracks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Artist, t.URL)
			}
			return w.Flush()
		},
	}
}
