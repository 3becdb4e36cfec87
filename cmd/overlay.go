package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/precinct"
	"github.com/sells-group/precinct-map/pkg/overpass"
)

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Fetch and manage transit and park overlays",
	Long:  "Loads OpenStreetMap transit stops and parks for a viewport through the configured overlay cache.",
}

var overlayLoadCmd = &cobra.Command{
	Use:   "load <transit|parks>",
	Short: "Print the overlay features of a viewport as GeoJSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := overpass.ParseKind(args[0])
		if err != nil {
			return err
		}
		bbox, _ := cmd.Flags().GetString("bbox")
		vp, err := precinct.ParseViewport(bbox)
		if err != nil {
			return err
		}

		env, err := initOverlayEnv(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Overlays.Load(ctx, kind, vp)
		if err != nil {
			return eris.Wrapf(err, "load %s overlay", kind)
		}
		zap.L().Info("overlay loaded",
			zap.String("key", res.Key),
			zap.Int("features", len(res.Features)),
			zap.Bool("cached", res.Cached),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Collection())
	},
}

var overlayClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the overlay cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initOverlayEnv(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Overlays.Clear(cmd.Context())
	},
}

var overlayStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count cached overlay viewports",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initOverlayEnv(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Overlays.Stats(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	overlayLoadCmd.Flags().String("bbox", "", "viewport as south,west,north,east")
	_ = overlayLoadCmd.MarkFlagRequired("bbox")
	overlayCmd.AddCommand(overlayLoadCmd, overlayClearCmd, overlayStatsCmd)
	rootCmd.AddCommand(overlayCmd)
}

// initOverlayEnv opens the store and overlay service without loading precincts.
func initOverlayEnv(cmd *cobra.Command) (*appEnv, error) {
	ctx := cmd.Context()
	if err := cfg.Validate("overlay"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}
	if err := env.initOverlays(ctx); err != nil {
		env.Close()
		return nil, err
	}
	if env.Overlays == nil {
		env.Close()
		return nil, eris.New("overlay.endpoint is not configured")
	}
	return env, nil
}
