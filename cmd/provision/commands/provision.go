package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/orchestrator"
	"github.com/openfroyo/provisioner/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newResourceCommand(resourceType engine.ResourceType, use, short string) *cobra.Command {
	var (
		name        string
		group       string
		environment string
		department  string
		location    string
		tier        string
		vnet        string
		params      []string
		force       bool
		strictNames bool
		showEvents  string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: fmt.Sprintf(`%s.

Location and tier default to the configured values for the environment
("default" also defers to configuration). When the resource already exists
it is returned unchanged unless --force is given or the redeploy is
confirmed at the prompt.`, short),
		Example: fmt.Sprintf(`  # Provision into the dev environment
  provision %[1]s --name %[2]s-web-dev --group rg-dev --env dev%[3]s

  # Pass template parameters
  provision %[1]s --name %[2]s-web-dev --group rg-dev --env dev --param sku=P1v3 --param replicas=2`,
			use, resourceType.Prefix(), exampleNetworkFlag(resourceType)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := engine.ParseEnvironment(environment)
			if err != nil {
				return engine.NewValidationError(err.Error(), resourceType, name, engine.ValidationDetail{Rule: "environment", ProvidedValue: environment})
			}

			parameters, err := parseParams(params)
			if err != nil {
				return engine.NewValidationError(err.Error(), resourceType, name, engine.ValidationDetail{Rule: "parameters"})
			}
			if vnet != "" {
				parameters = parameters.With(orchestrator.VirtualNetworkParameter, vnet)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			opts := orchestrator.ProvisionOptions{
				Force:   force,
				Confirm: confirmUpdate(ctx),
			}
			if strictNames {
				opts.NameMode = engine.NameModeStrict
			}

			log.Debug().
				Str("resource_type", string(resourceType)).
				Str("name", name).
				Str("resource_group", group).
				Str("environment", string(env)).
				Bool("force", force).
				Msg("Provisioning resource")

			req := engine.ResourceRequest{
				ResourceType:  resourceType,
				Name:          name,
				ResourceGroup: group,
				Environment:   env,
				Department:    department,
				Location:      location,
				Tier:          tier,
				Parameters:    parameters,
			}
			result, err := a.orch.Provision(ctx, req, opts)
			if showEvents != "" {
				events, qerr := invocationEvents(ctx, a.telemetry.Events, req.Path(), showEvents)
				if qerr != nil {
					return qerr
				}
				if perr := printEvents(cmd.ErrOrStderr(), events); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "resource name")
	cmd.Flags().StringVarP(&group, "group", "g", "", "resource group")
	cmd.Flags().StringVarP(&environment, "env", "e", "", "environment (dev, test, prod)")
	cmd.Flags().StringVar(&department, "department", "", "owning department, added to tags")
	cmd.Flags().StringVarP(&location, "location", "l", "", "region (default from configuration)")
	cmd.Flags().StringVar(&tier, "tier", "", "sku or tier (default from configuration)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "template parameter key=value (repeatable)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "redeploy an existing resource without asking")
	cmd.Flags().BoolVar(&strictNames, "strict-names", false, "fail when the name does not follow the naming policy")
	cmd.Flags().StringVar(&showEvents, "events", "", "print this invocation's events at or above this level (info, warning, error) to stderr")
	if resourceType == engine.ResourceTypeVirtualMachine || resourceType == engine.ResourceTypeWebApp {
		cmd.Flags().StringVar(&vnet, "vnet", "", "virtual network in the resource group")
	}
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

// invocationEvents returns the retained events under path at minLevel or
// above, oldest first.
func invocationEvents(ctx context.Context, store *telemetry.EventStore, path, minLevel string) ([]engine.Event, error) {
	events, err := store.Events(ctx, engine.EventFilter{PathPrefix: path})
	if err != nil {
		return nil, err
	}
	keep := telemetry.FilterByLevel(minLevel)
	out := make([]engine.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		if keep(events[i]) {
			out = append(out, events[i])
		}
	}
	return out, nil
}

func exampleNetworkFlag(resourceType engine.ResourceType) string {
	if resourceType == engine.ResourceTypeVirtualMachine {
		return " --vnet vnet-dev"
	}
	return ""
}

// parseParams turns key=value pairs into ordered parameters. Values are
// decoded as YAML scalars or flow collections, so numbers, booleans and
// lists keep their type; anything else stays a string.
func parseParams(pairs []string) (engine.Parameters, error) {
	params := engine.NewParameters()
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return params, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		params = params.With(key, value)
	}
	return params, nil
}
