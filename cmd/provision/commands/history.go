package commands

import (
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/stores"
	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	var (
		kinds []string
		path  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded provisioning events, newest first",
		Example: `  provision events --limit 20
  provision events --kind provisioning.failed --kind deployment.retry
  provision events --path virtual_machine/rg-dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := engine.EventFilter{PathPrefix: path, Limit: limit}
			for _, k := range kinds {
				filter.Kinds = append(filter.Kinds, engine.EventKind(k))
			}
			events, err := store.GetEvents(ctx, filter)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only events of this kind (repeatable)")
	cmd.Flags().StringVar(&path, "path", "", "only events whose path starts with this prefix")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")

	return cmd
}

func newHistoryCommand() *cobra.Command {
	var (
		resourceType string
		status       string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List provisioning runs, newest first",
		Example: `  provision history
  provision history --type vm --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.RunFilter{Status: engine.RunStatus(status), Limit: limit}
			if resourceType != "" {
				rt, err := engine.ParseResourceType(resourceType)
				if err != nil {
					return err
				}
				filter.ResourceType = rt
			}

			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().StringVar(&resourceType, "type", "", "only runs for this resource type")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (running, succeeded, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}
