package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/ingest"
	"github.com/sells-group/precinct-map/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export precinct data as JSON, CSV or XLSX",
	Long:  "Writes every precinct's FIPS code and ACS values. Variables fetched without a value are written as -1.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		formatFlag, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		applyFull, _ := cmd.Flags().GetBool("full")

		format, err := ingest.ParseFormat(formatFlag)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.loadPrecincts(ctx); err != nil {
			return err
		}
		if applyFull {
			if _, err := env.Manager.LoadFull(ctx); err != nil {
				return eris.Wrap(err, "load full data")
			}
		}

		if outPath == "" {
			outPath = exportFileName(format, time.Now())
		}
		f, err := os.Create(outPath)
		if err != nil {
			return eris.Wrapf(err, "create %s", outPath)
		}
		rec, err := env.Manager.Export(ctx, f, format)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "close %s", outPath)
		}
		if err != nil {
			return err
		}

		zap.L().Info("export written",
			zap.String("path", outPath),
			zap.String("id", rec.ID),
			zap.Int("precincts", rec.Precincts),
			zap.Int64("bytes", rec.Bytes),
		)
		return nil
	},
}

var exportHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		exports, err := st.ListExports(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "list exports")
		}
		if len(exports) == 0 {
			zap.L().Info("no exports recorded, run 'export' to create one")
			return nil
		}
		formatExports(os.Stdout, exports)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", ingest.FormatJSON, "export format: json, csv or xlsx")
	exportCmd.Flags().String("out", "", "output path (default precinct_data_<date>.<format>)")
	exportCmd.Flags().Bool("full", false, "apply the full data file before exporting")
	exportHistoryCmd.Flags().Int("limit", 20, "maximum number of exports to list")
	exportCmd.AddCommand(exportHistoryCmd)
	rootCmd.AddCommand(exportCmd)
}

// exportFileName is the default name of an export written at t.
func exportFileName(format string, t time.Time) string {
	return "precinct_data_" + t.UTC().Format("2006-01-02") + "." + format
}

// formatExports writes a table of recorded exports to out.
func formatExports(out io.Writer, exports []store.Export) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFORMAT\tPRECINCTS\tBYTES\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t-----\t-------")
	for _, e := range exports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			e.ID,
			e.Format,
			e.Precincts,
			e.Bytes,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
