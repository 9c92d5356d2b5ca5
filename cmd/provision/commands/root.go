package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPaths   []string
	dbPath        string
	jsonOutput    bool
	logLevel      string
	policyPaths   []string
	watchPolicies bool
	tracing       string
	otlpEndpoint  string
	metricsAddr   string
	actor         string
	sandboxFile   string

	telemetryProfile string
	disabledPolicies []string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit code. Provisioning errors
// get one code per category so scripts can branch on the failure kind.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	perr, ok := engine.AsProvisioningError(err)
	if !ok {
		return 1
	}
	switch perr.Category {
	case engine.CategoryValidation:
		return 2
	case engine.CategoryResourceExists:
		return 3
	case engine.CategoryDependency:
		return 4
	case engine.CategoryNetworkConfiguration:
		return 5
	case engine.CategoryAuthorization:
		return 6
	case engine.CategoryTransient:
		return 7
	default:
		return 8
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision cloud resources with naming policy, idempotency and retries",
		Long: `provision deploys virtual machines, web apps, storage accounts and key
vaults into a resource group.

Every invocation:
  - Checks the resource name against the naming policy
  - Resolves location, tier and template from configuration
  - Verifies the resource group and virtual network
  - Returns or redeploys an existing resource
  - Retries throttled and transient backend failures with backoff
  - Records events, run history and an audit trail`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				zerolog.SetGlobalLevel(telemetry.ParseLevel(logLevel))
			}
		},
	}

	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c", nil, "config file or directory (repeatable, merged in order)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides configuration)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policy", nil, "extra Rego policy file or directory (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&watchPolicies, "watch-policies", false, "reload policies when files change")
	rootCmd.PersistentFlags().StringVar(&tracing, "tracing", "", "trace exporter (none, stdout, otlp; default from --telemetry-profile)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP gRPC endpoint")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "actor recorded in the audit log")
	rootCmd.PersistentFlags().StringVar(&telemetryProfile, "telemetry-profile", "", "telemetry preset (default, development, production)")
	rootCmd.PersistentFlags().StringSliceVar(&disabledPolicies, "disable-policy", nil, "naming policy to skip (repeatable)")
	rootCmd.PersistentFlags().StringVar(&sandboxFile, "sandbox", "", "fixtures file seeded into the sandbox, including its fault plan")

	rootCmd.AddCommand(newResourceCommand(engine.ResourceTypeVirtualMachine, "vm", "Provision a virtual machine"))
	rootCmd.AddCommand(newResourceCommand(engine.ResourceTypeWebApp, "webapp", "Provision a web app"))
	rootCmd.AddCommand(newResourceCommand(engine.ResourceTypeStorageAccount, "storage", "Provision a storage account"))
	rootCmd.AddCommand(newResourceCommand(engine.ResourceTypeKeyVault, "keyvault", "Provision a key vault"))
	rootCmd.AddCommand(newValidateNameCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newGroupCommand())
	rootCmd.AddCommand(newNetworkCommand())
	rootCmd.AddCommand(newSandboxCommand())

	return rootCmd
}
