package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/precinct-map/internal/classify"
	"github.com/sells-group/precinct-map/internal/metric"
	"github.com/sells-group/precinct-map/internal/precinct"
	"github.com/sells-group/precinct-map/internal/render"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <metric>",
	Short: "Print the breaks and legend of a metric",
	Long:  "Loads the precincts and classifies one metric, optionally within a viewport and with dynamic quantile breaks.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dynamic, _ := cmd.Flags().GetBool("dynamic")
		bbox, _ := cmd.Flags().GetString("bbox")

		opts := render.Options{Dynamic: dynamic}
		if bbox != "" {
			vp, err := precinct.ParseViewport(bbox)
			if err != nil {
				return err
			}
			opts.Viewport = &vp
		}

		env, err := initEnv(ctx, "classify")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.loadPrecincts(ctx); err != nil {
			return err
		}

		return env.Manager.View(func(set *precinct.Set) error {
			m, scale, n, err := render.Classify(set, env.Manager.Catalog(), args[0], opts)
			if err != nil {
				return err
			}
			formatScale(os.Stdout, m, scale, n)
			return nil
		})
	},
}

func init() {
	classifyCmd.Flags().Bool("dynamic", false, "derive quantile breaks from the visible values")
	classifyCmd.Flags().String("bbox", "", "viewport as south,west,north,east")
	rootCmd.AddCommand(classifyCmd)
}

// formatScale writes the strategy, breaks and legend of scale to out.
func formatScale(out io.Writer, m metric.Metric, scale classify.Scale, values int) {
	_, _ = fmt.Fprintf(out, "%s (%s)\n", m.Title, m.Key)
	_, _ = fmt.Fprintf(out, "strategy: %s\nvalues: %d\n", scale.Strategy, values)

	legend := render.Legend(m, scale)
	if len(legend) == 0 {
		_, _ = fmt.Fprintln(out, "no values to classify")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLOR\tFROM\tTO\tLABEL")
	_, _ = fmt.Fprintln(w, "-----\t----\t--\t-----")
	for _, e := range legend {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Color,
			m.FormatLegendValue(e.From),
			m.FormatLegendValue(e.To),
			e.Label,
		)
	}
	_ = w.Flush()
}
