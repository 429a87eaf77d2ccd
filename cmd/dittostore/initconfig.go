package main

import (
	"fmt"

	"github.com/marmos91/dittostore/pkg/config"
	"github.com/spf13/cobra"
)

var initConfigFlags struct {
	Path  string
	Force bool
}

var initConfigCmd = &cobra.Command{
	Use:         "init-config",
	Short:       "Write a commented default configuration file",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"skip-config": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := initConfigFlags.Path
		if path == "" {
			p, err := config.InitConfig(initConfigFlags.Force)
			if err != nil {
				return err
			}
			path = p
		} else if err := config.InitConfigToPath(path, initConfigFlags.Force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().StringVar(&initConfigFlags.Path, "path", "", "Destination file (default: $XDG_CONFIG_HOME/dittostore/config.yaml)")
	initConfigCmd.Flags().BoolVarP(&initConfigFlags.Force, "force", "f", false, "Overwrite an existing file")
	rootCmd.AddCommand(initConfigCmd)
}
