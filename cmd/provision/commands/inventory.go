package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/providers/local"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage resource groups in the sandbox inventory",
	}
	cmd.AddCommand(newGroupCreateCommand())
	cmd.AddCommand(newGroupListCommand())
	cmd.AddCommand(newGroupShowCommand())
	return cmd
}

func newGroupCreateCommand() *cobra.Command {
	var (
		location string
		tags     []string
	)

	cmd := &cobra.Command{
		Use:     "create <name>",
		Short:   "Create or update a resource group",
		Example: `  provision group create rg-dev --location westeurope --tag department=platform`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tagMap, err := parseTags(tags)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			group, err := local.New(store, local.WithLogger(log.Logger)).CreateResourceGroup(ctx, args[0], location, tagMap)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), group)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resource group %s ready in %s\n", group.Name, group.Location)
			return nil
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "region")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag key=value (repeatable)")
	_ = cmd.MarkFlagRequired("location")

	return cmd
}

func newGroupListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resource groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			groups, err := store.ListResourceGroups(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), groups)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLOCATION\tTAGS")
			for _, g := range groups {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", g.Name, g.Location, formatTags(g.Tags))
			}
			return tw.Flush()
		},
	}
}

func newGroupShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "List the resources in a resource group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			group, err := store.GetResourceGroup(ctx, args[0])
			if err != nil {
				return err
			}
			if group == nil {
				return engine.NewDependencyError(fmt.Sprintf("resource group %s not found", args[0]), "", "",
					engine.DependencyDetail{DependencyType: "resource_group", DependencyName: args[0]})
			}
			resources, err := store.ListResources(ctx, group.Name)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"group":     group,
					"resources": resources,
				})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tNAME\tLOCATION\tTIER\tSTATE")
			for _, r := range resources {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Type, r.Name, r.Location, r.Tier, r.ProvisioningState)
			}
			return tw.Flush()
		},
	}
}

func newNetworkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Manage virtual networks in the sandbox inventory",
	}
	cmd.AddCommand(newNetworkCreateCommand())
	return cmd
}

func newNetworkCreateCommand() *cobra.Command {
	var (
		group        string
		addressSpace []string
		state        string
	)

	cmd := &cobra.Command{
		Use:     "create <name>",
		Short:   "Create or update a virtual network",
		Example: `  provision network create vnet-dev --group rg-dev --address-space 10.0.0.0/16`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			network := &engine.NetworkInfo{
				Name:              args[0],
				ResourceGroup:     group,
				AddressSpace:      addressSpace,
				ProvisioningState: state,
			}
			if err := local.New(store, local.WithLogger(log.Logger)).CreateVirtualNetwork(ctx, network); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), network)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Virtual network %s ready in %s (%s)\n",
				network.Name, network.ResourceGroup, network.ProvisioningState)
			return nil
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "resource group")
	cmd.Flags().StringSliceVar(&addressSpace, "address-space", nil, "address prefixes")
	cmd.Flags().StringVar(&state, "state", "", "provisioning state (default Succeeded)")
	_ = cmd.MarkFlagRequired("group")

	return cmd
}

func newSandboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Manage the local sandbox backend",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Load resource groups, networks and resources from a fixtures file",
		Long: `Load resource groups, networks and existing resources from a YAML
fixtures file into the sandbox inventory.

Fault plans in the file only live for one process; pass the file to a
provisioning command with --sandbox to apply them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, err := local.LoadFixtures(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := local.New(store, local.WithLogger(log.Logger)).Seed(ctx, fixtures); err != nil {
				return err
			}
			if fixtures.Faults != nil {
				log.Warn().Msg("Fault plan ignored by seed, use --sandbox to apply it")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d resource groups, %d networks, %d resources\n",
				len(fixtures.ResourceGroups), len(fixtures.Networks), len(fixtures.Resources))
			return nil
		},
	})
	return cmd
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q, expected key=value", pair)
		}
		tags[k] = v
	}
	return tags, nil
}

func formatTags(tags map[string]string) string {
	p := make(map[string]interface{}, len(tags))
	for k, v := range tags {
		p[k] = v
	}
	return formatPayload(p)
}
