package commands

import (
	"context"
	"fmt"
	"os"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/config"

	"github.com/spf13/cobra"
)

var configPath *string
var verbose *bool

// loaded by the persistent pre-run of the root command
var cfg config.Config
var providers telemetry.Telemetry

func init() {
	configPath = rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the config file, zhihu.json5 is searched upward from the cwd by default.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")
}

var rootCmd = &cobra.Command{
	Use:           "zhihu",
	Short:         "zhihu archives articles, answers and collections as markdown.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if *configPath != "" {
			cfg, err = config.LoadFile(*configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		telemetry.InitSlog(*verbose || cfg.Logging.Verbose)

		providers, err = telemetry.Setup(cmd.Context(), "zhihu-archive", cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		providers.Shutdown(context.Background())
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
