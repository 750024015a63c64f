package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/daemon"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "zbridge",
		Short: "ZeroBridge - phone audio and camera bridge",
		Long: `ZeroBridge - phone audio and camera bridge

Runs the host side of the bridge: handshake with the phone, PipeWire routing,
and the media processes carrying audio and video between the two.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration(configPath, verbose)
			if err != nil {
				return err
			}
			core.Config = cfg
			daemon.SetupLogging(cfg.Verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewDaemonCommand(),
		NewStartCommand(),
		NewStopCommand(),
		NewReloadCommand(),
		NewStatusCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// loadConfiguration reads daemon.hcl from configPath, falling back to the
// defaults when the file does not exist. Command line verbosity wins over the
// file when given.
func loadConfiguration(configPath string, verbose int) (*core.Configuration, error) {
	configPath = core.ExpandHome(configPath)
	settingsPath := filepath.Join(configPath, core.SettingsFileName)

	cfg := core.GetDefaultConfig()
	if core.ConfigExists(settingsPath) {
		loaded, err := core.LoadConfig(settingsPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ConfigPath = configPath
	if verbose > 0 {
		cfg.Verbose = verbose
	}
	return cfg, nil
}
