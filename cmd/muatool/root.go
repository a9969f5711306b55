package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/muatool/dashboard/internal/config"
	"github.com/muatool/dashboard/internal/defaults"
)

// Shared CLI flags
var (
	cfgFile string
	verbose bool
	quiet   bool
)

// embeddedConfig holds the built-in defaults (set by main)
var embeddedConfig []byte

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(embedded []byte) *cobra.Command {
	embeddedConfig = embedded

	rootCmd := &cobra.Command{
		Use:   "muatool",
		Short: "MuaTool Dashboard",
		Long: `MuaTool Dashboard opens licensed SEO and marketing tools in isolated
browser partitions, keeps their sessions in sync with the MuaTool server,
and exposes a local API for the dashboard UI.

Just type 'muatool' to start it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunApp(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no request logging")

	rootCmd.AddCommand(VersionCmd())
	rootCmd.AddCommand(CheckUpdateCmd())
	rootCmd.AddCommand(DeviceCmd())
	rootCmd.AddCommand(DoctorCmd())

	return rootCmd
}

// Execute runs the CLI.
func Execute(embedded []byte) {
	// .env is optional
	_ = godotenv.Load()

	if err := SetupRootCmd(embedded).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configPath is the user config file in effect.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	dir, err := defaults.DataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, defaults.ConfigFile)
}

func loadConfig() (config.Config, error) {
	c, err := config.Load(embeddedConfig, configPath())
	if err != nil {
		return c, err
	}
	if verbose {
		c.Log.Level = "debug"
	}
	return c, nil
}
