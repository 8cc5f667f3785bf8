package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config.yaml with the current effective settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat("config.yaml"); err == nil && !configInitForce {
			return eris.New("config.yaml already exists (use --force to overwrite)")
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}

		header := []byte("# forensics-cli configuration.\n# Every key can be overridden via FORENSICS_<SECTION>_<KEY> env vars.\n")
		if err := os.WriteFile("config.yaml", append(header, out...), 0o644); err != nil {
			return eris.Wrap(err, "write config.yaml")
		}

		zap.L().Info("wrote config.yaml")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
