package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "precinct-map",
	Short: "Choropleth maps of ACS data by voting precinct",
	Long:  "Loads precinct boundaries and attributes, fetches American Community Survey estimates per precinct, classifies them into color scales and serves the styled map.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
