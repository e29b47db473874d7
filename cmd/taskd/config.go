package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samridh-111/backend-interview-challenge/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as a config file",
	Long: `Print the configuration after merging the config file, TASKD_* environment
variables and flags. The output is a valid config file:

  taskd config show --format yaml > taskd.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		cfg, loader, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := cfg.Render(format)
		if err != nil {
			return err
		}

		if file := loader.ConfigFile(); file != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderMuted("# from "+file))
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configShowCmd.Flags().StringP("format", "f", "toml", "Output format: toml or yaml")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
