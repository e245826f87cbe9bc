package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/rolesched/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the scheduler configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default scheduler configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		file   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective scheduler configuration",
		Long: `Print the configuration the running daemon is using, or with --file
the configuration a file would produce after defaults are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				if cfg, err = config.Parse(data); err != nil {
					return err
				}
			} else if err := client.Get("/api/v1/config", &cfg); err != nil {
				return fmt.Errorf("get config: %w", err)
			}

			data, err := renderConfig(cfg, output)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Read this file instead of asking the daemon")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format (json, yaml)")
	return cmd
}

// renderConfig encodes cfg as json or yaml. The yaml form goes through the
// json encoding so both share the same key names.
func renderConfig(cfg config.Config, format string) ([]byte, error) {
	data, err := config.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	switch format {
	case "json":
		return data, nil
	case "yaml":
		var generic map[string]any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, err
		}
		return yaml.Marshal(generic)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
