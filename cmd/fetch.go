package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/ingest"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch ACS estimates for the precincts",
	Long:  "Fetches census variables chunk by chunk, or applies the full pre-fetched data file. Results are saved to the store.",
}

var fetchChunkCmd = &cobra.Command{
	Use:   "chunk <key>",
	Short: "Fetch one chunk of variables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "fetch")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.loadPrecincts(ctx); err != nil {
			return err
		}

		res, err := env.Manager.FetchChunk(ctx, args[0], logProgress)
		if err != nil {
			return eris.Wrapf(err, "fetch chunk %s", args[0])
		}
		formatChunkResults(os.Stdout, []*ingest.ChunkResult{res})
		return nil
	},
}

var fetchAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Fetch every chunk in catalog order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "fetch")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.loadPrecincts(ctx); err != nil {
			return err
		}

		results, err := env.Manager.FetchAll(ctx, logProgress)
		formatChunkResults(os.Stdout, results)
		if err != nil {
			return eris.Wrap(err, "fetch all")
		}
		return nil
	},
}

var fetchFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Apply the full pre-fetched ACS data file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.loadPrecincts(ctx); err != nil {
			return err
		}

		stats, err := env.Manager.LoadFull(ctx)
		if err != nil {
			return eris.Wrap(err, "load full data")
		}
		if err := env.Manager.Save(ctx); err != nil {
			return eris.Wrap(err, "save precincts")
		}
		zap.L().Info("full data applied",
			zap.Int("records", stats.Records),
			zap.Int("matched", stats.Matched),
			zap.Int("values", stats.Values),
			zap.Int("rejected", stats.Rejected),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	},
}

var fetchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which chunks are loaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.loadPrecincts(ctx); err != nil {
			return err
		}

		formatChunkStates(os.Stdout, env.Manager.ChunkStatus())
		return nil
	},
}

var fetchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete persisted precinct observations",
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

		if err := st.ClearPrecincts(ctx); err != nil {
			return eris.Wrap(err, "clear precincts")
		}
		zap.L().Info("persisted precinct observations cleared")
		return nil
	},
}

func init() {
	fetchCmd.AddCommand(fetchChunkCmd, fetchAllCmd, fetchFullCmd, fetchStatusCmd, fetchResetCmd)
	rootCmd.AddCommand(fetchCmd)
}

func logProgress(p ingest.Progress) {
	if p.Current == 1 || p.Current == p.Total || p.Current%25 == 0 {
		zap.L().Info("fetching",
			zap.String("chunk", p.Chunk),
			zap.Int("current", p.Current),
			zap.Int("total", p.Total),
		)
	}
}

// formatChunkResults writes one row per chunk fetch result to out.
func formatChunkResults(out io.Writer, results []*ingest.ChunkResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHUNK\tPRECINCTS\tFETCHED\tFAILED\tNOTE")
	_, _ = fmt.Fprintln(w, "-----\t---------\t-------\t------\t----")
	for _, r := range results {
		if r == nil {
			continue
		}
		note := ""
		if r.Skipped {
			note = "skipped: " + r.Reason
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", r.Chunk, r.Precincts, r.Fetched, r.Failed, note)
	}
	_ = w.Flush()
}

// formatChunkStates writes the status of every chunk to out.
func formatChunkStates(out io.Writer, states []ingest.ChunkState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHUNK\tNAME\tVARIABLES\tSTATUS")
	_, _ = fmt.Fprintln(w, "-----\t----\t---------\t------")
	for _, s := range states {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Key, s.Name, len(s.Variables), s.Status)
	}
	_ = w.Flush()
}
