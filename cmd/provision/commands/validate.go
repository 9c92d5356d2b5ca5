package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/provisioner/pkg/config"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type nameCheck struct {
	ResourceType engine.ResourceType `json:"resource_type"`
	Name         string              `json:"name"`
	Environment  engine.Environment  `json:"environment"`
	Pattern      string              `json:"pattern"`
	Compliant    bool                `json:"compliant"`
}

// loadRules builds a policy engine with the configured and --policy
// policies, minus those named by --disable-policy.
func loadRules(ctx context.Context, cfg *config.Config) (*policy.Engine, error) {
	rules, err := policy.NewEngine(ctx, log.Logger)
	if err != nil {
		return nil, err
	}
	if paths := append(cfg.Settings.PolicyPaths, policyPaths...); len(paths) > 0 {
		if err := rules.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	if err := disablePolicies(rules, disabledPolicies); err != nil {
		return nil, err
	}
	return rules, nil
}

func newValidateNameCommand() *cobra.Command {
	var (
		environment string
		strict      bool
	)

	cmd := &cobra.Command{
		Use:   "validate-name <type> <name>",
		Short: "Check a resource name against the naming policy",
		Long: `Check a resource name against the naming pattern and Rego naming
policies for a resource type and environment.

Types: vm, webapp, storage, keyvault. A non-compliant name exits with
status 2 under --strict and prints a warning otherwise.`,
		Example: `  provision validate-name vm vm-web-dev --env dev
  provision validate-name storage stlogsprod --env prod --strict`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceType, err := engine.ParseResourceType(args[0])
			if err != nil {
				return engine.NewValidationError(err.Error(), "", args[1],
					engine.ValidationDetail{Rule: "resource_type", ProvidedValue: args[0]})
			}
			name := args[1]
			env, err := engine.ParseEnvironment(environment)
			if err != nil {
				return engine.NewValidationError(err.Error(), resourceType, name,
					engine.ValidationDetail{Rule: "environment", ProvidedValue: environment})
			}

			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rules, err := loadRules(ctx, cfg)
			if err != nil {
				return err
			}
			validator := policy.NewValidator(log.Logger, policy.WithRules(rules))

			mode := cfg.Settings.NameMode
			if strict {
				mode = engine.NameModeStrict
			}
			compliant, err := validator.Validate(ctx, resourceType, name, env, mode)
			if err != nil {
				return err
			}

			check := nameCheck{
				ResourceType: resourceType,
				Name:         name,
				Environment:  env,
				Compliant:    compliant,
			}
			if p, ok := validator.Policy(resourceType); ok {
				check.Pattern = p.PatternFor(env)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, check)
			}
			if compliant {
				fmt.Fprintf(out, "%s follows the %s naming policy for %s\n", name, resourceType, env)
				return nil
			}
			fmt.Fprintf(out, "warning: %s does not match %s\n", name, check.Pattern)
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "dev", "environment (dev, test, prod)")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat a mismatch as an error")

	return cmd
}
