package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/marmos91/dittostore/pkg/binding"
	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var infoFlags struct {
	Format string
}

type infoView struct {
	Scheme           string   `yaml:"scheme"`
	Root             string   `yaml:"root"`
	Name             string   `yaml:"name,omitempty"`
	FullCapability   []string `yaml:"full_capability"`
	NativeCapability []string `yaml:"native_capability"`
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the scheme, root and capabilities of the configured backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			info := op.Info()
			out := cmd.OutOrStdout()

			switch infoFlags.Format {
			case "xdr":
				data, err := binding.Encode(binding.NewOperatorInfoRecord(info))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, hex.EncodeToString(data))
				return nil
			case "yaml":
				full, err := capabilityNames(info.FullCapability)
				if err != nil {
					return err
				}
				native, err := capabilityNames(info.NativeCapability)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(infoView{
					Scheme:           info.Scheme,
					Root:             info.Root,
					Name:             info.Name,
					FullCapability:   full,
					NativeCapability: native,
				}); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q (expected yaml or xdr)", infoFlags.Format)
			}
		})
	},
}

func capabilityNames(c storage.Capability) ([]string, error) {
	fields := map[string]any{}
	if err := mapstructure.Decode(c, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode capability: %w", err)
	}
	return enabledCapabilities(fields), nil
}

func init() {
	infoCmd.Flags().StringVarP(&infoFlags.Format, "format", "f", "yaml", "Output format: yaml or xdr")
	rootCmd.AddCommand(infoCmd)
}
