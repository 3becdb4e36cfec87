package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/metric"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the metric catalog",
	Long:  "Prints every metric with its variable, chunk and classification strategy. With --write the catalog is saved as YAML for editing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		catalog, err := loadCatalog(cfg.Catalog)
		if err != nil {
			return err
		}

		if path, _ := cmd.Flags().GetString("write"); path != "" {
			if err := catalog.WriteFile(path); err != nil {
				return err
			}
			zap.L().Info("catalog written", zap.String("path", path))
			return nil
		}

		formatCatalog(os.Stdout, catalog)
		return nil
	},
}

func init() {
	catalogCmd.Flags().String("write", "", "write the catalog as YAML to this path")
	rootCmd.AddCommand(catalogCmd)
}

// formatCatalog writes a table of the catalog's metrics to out.
func formatCatalog(out io.Writer, catalog *metric.Catalog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tTITLE\tTYPE\tCHUNK\tSTRATEGY")
	_, _ = fmt.Fprintln(w, "---\t-----\t----\t-----\t--------")
	for _, m := range catalog.Metrics() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			m.Key,
			m.Title,
			m.Type,
			m.Chunk,
			m.Scheme().Static,
		)
	}
	_ = w.Flush()
}
