package commands

import (
	"fmt"

	"github.com/openfroyo/provisioner/pkg/config"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the merged configuration",
	}
	cmd.AddCommand(newConfigGetCommand())
	cmd.AddCommand(newConfigKeysCommand())
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

func newConfigGetCommand() *cobra.Command {
	var (
		environment string
		explicit    string
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Resolve a configuration value",
		Long: `Resolve a dotted configuration path the way provisioning does: an
explicit value wins unless it is empty or "default", then <path>.<env>,
then <path>.default, then <path> itself.`,
		Example: `  provision config get Tiers.VirtualMachine --env prod
  provision config get Regions --env dev --value northeurope`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var env engine.Environment
			if environment != "" {
				var err error
				if env, err = engine.ParseEnvironment(environment); err != nil {
					return err
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			res, ok := config.NewResolver(cfg).Resolve(args[0], env, explicit)
			if !ok {
				return fmt.Errorf("no configuration value for %s", args[0])
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, res)
			}
			if res.Key != "" {
				fmt.Fprintf(out, "%s\t(%s, %s)\n", res.String(), res.Source, res.Key)
				return nil
			}
			fmt.Fprintf(out, "%s\t(%s)\n", res.String(), res.Source)
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "environment (dev, test, prod)")
	cmd.Flags().StringVar(&explicit, "value", "", "explicit value to resolve against")

	return cmd
}

func newConfigKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys [prefix]",
		Short: "List configuration keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			keys := cfg.Table().Keys()
			if len(args) == 1 {
				keys = cfg.Table().KeysWithPrefix(args[0])
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, keys)
			}
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the provisioner settings and their sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			settings := cfg.Settings
			if settings.Events.Archive != nil && settings.Events.Archive.SecretKey != "" {
				archive := *settings.Events.Archive
				archive.SecretKey = "********"
				settings.Events.Archive = &archive
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"sources":  cfg.Sources,
				"settings": settings,
			})
		},
	}
}
