package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProvisionCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "provisioner.db")

	_, err := execute(t, "group", "create", "rg-dev", "--location", "westeurope", "--tag", "department=platform", "--db", db)
	require.NoError(t, err)
	_, err = execute(t, "network", "create", "vnet-dev", "--group", "rg-dev", "--address-space", "10.0.0.0/16", "--db", db)
	require.NoError(t, err)

	vm := []string{"vm", "--name", "vm-web-dev", "--group", "rg-dev", "--env", "dev",
		"--vnet", "vnet-dev", "--param", "adminUsername=azureuser", "--param", "dataDisks=2",
		"--db", db, "--json"}

	out, err := execute(t, vm...)
	require.NoError(t, err)
	var created engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, engine.StateCompleted, created.State)
	assert.Equal(t, engine.OutcomeCreated, created.Idempotency)
	assert.Equal(t, "westeurope", created.Location)
	assert.Equal(t, "Standard_B2s", created.Tier)
	assert.True(t, created.NameCompliant)

	// Without a terminal the redeploy prompt is declined.
	out, err = execute(t, vm...)
	require.NoError(t, err)
	var existing engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &existing))
	assert.Equal(t, engine.StateReturningExisting, existing.State)
	assert.Equal(t, engine.OutcomeExisting, existing.Idempotency)
	assert.Equal(t, created.ResourceID, existing.ResourceID)

	out, err = execute(t, "history", "--db", db, "--json")
	require.NoError(t, err)
	var runs []engine.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, engine.RunStatusSucceeded, r.Status)
	}

	out, err = execute(t, "events", "--db", db, "--json", "--kind", string(engine.EventProvisioningCompleted))
	require.NoError(t, err)
	var events []engine.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.Len(t, events, 1)

	out, err = execute(t, "group", "show", "rg-dev", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "vm-web-dev")
}

func TestProvisionCommand_Failures(t *testing.T) {
	db := filepath.Join(t.TempDir(), "provisioner.db")

	_, err := execute(t, "vm", "--name", "WebServer01", "--group", "rg-dev", "--env", "dev", "--strict-names", "--db", db)
	assert.Equal(t, 2, ExitCode(err))

	_, err = execute(t, "storage", "--name", "stlogsdev", "--group", "rg-missing", "--env", "dev", "--db", db)
	assert.Equal(t, 4, ExitCode(err))

	_, err = execute(t, "keyvault", "--name", "kv-app-dev", "--group", "rg-dev", "--env", "staging", "--db", db)
	assert.Equal(t, 2, ExitCode(err))

	out, err := execute(t, "history", "--db", db, "--status", "failed", "--json")
	require.NoError(t, err)
	var runs []engine.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Len(t, runs, 2, "an invalid environment is rejected before a run starts")
}

func TestProvisionCommand_SandboxFaults(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "provisioner.db")
	fixtures := filepath.Join(dir, "sandbox.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte(`
resource_groups:
  - name: rg-test
    location: northeurope
faults:
  forbidden: true
`), 0o600))

	_, err := execute(t, "webapp", "--name", "app-shop-test", "--group", "rg-test", "--env", "test",
		"--sandbox", fixtures, "--db", db)
	assert.Equal(t, 6, ExitCode(err))

	out, err := execute(t, "group", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "rg-test")
}

func TestProvisionCommand_PrintsInvocationEvents(t *testing.T) {
	db := filepath.Join(t.TempDir(), "provisioner.db")

	out, err := execute(t, "storage", "--name", "stlogsdev", "--group", "rg-missing", "--env", "dev",
		"--events", "warning", "--db", db)
	assert.Equal(t, 4, ExitCode(err))
	assert.Contains(t, out, string(engine.EventProvisioningFailed))
	assert.NotContains(t, out, string(engine.EventProvisioningStarted))

	out, err = execute(t, "storage", "--name", "stlogsdev", "--group", "rg-missing", "--env", "dev",
		"--events", "info", "--db", db)
	assert.Error(t, err)
	assert.Contains(t, out, string(engine.EventProvisioningStarted))
	assert.Contains(t, out, "storage_account/rg-missing/stlogsdev")
}

func TestPolicyListCommand(t *testing.T) {
	out, err := execute(t, "policy", "list", "--json")
	require.NoError(t, err)
	var policies []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &policies))
	require.NotEmpty(t, policies)
	assert.Equal(t, "naming-conventions", policies[0].Name)
	assert.True(t, policies[0].Enabled)

	out, err = execute(t, "policy", "list", "--disable-policy", "naming-conventions")
	require.NoError(t, err)
	assert.Contains(t, out, "naming-conventions")
	assert.Contains(t, out, "false")

	_, err = execute(t, "policy", "list", "--disable-policy", "no-such-policy")
	assert.Error(t, err)
}

func TestValidateNameCommand(t *testing.T) {
	out, err := execute(t, "validate-name", "storage", "stlogsprod", "--env", "prod", "--json")
	require.NoError(t, err)
	var check nameCheck
	require.NoError(t, json.Unmarshal([]byte(out), &check))
	assert.True(t, check.Compliant)
	assert.Equal(t, engine.ResourceTypeStorageAccount, check.ResourceType)

	out, err = execute(t, "validate-name", "vm", "WebServer01", "--env", "dev")
	require.NoError(t, err)
	assert.Contains(t, out, "warning")

	_, err = execute(t, "validate-name", "vm", "WebServer01", "--env", "dev", "--strict")
	assert.Equal(t, 2, ExitCode(err))
}

func TestConfigGetCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(file, []byte("Regions:\n  prod: northeurope\n"), 0o600))

	out, err := execute(t, "config", "get", "Regions", "--env", "prod", "--config", file, "--json")
	require.NoError(t, err)
	var res struct {
		Value  string `json:"value"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "northeurope", res.Value)
	assert.Equal(t, "environment", res.Source)

	out, err = execute(t, "config", "get", "Regions", "--env", "prod", "--value", "eastus", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "eastus", res.Value)
	assert.Equal(t, "explicit", res.Source)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"count=2", "enabled=true", "zones=[1, 2]", "sku=P1v3", "empty="})
	require.NoError(t, err)

	assert.Equal(t, []string{"count", "enabled", "zones", "sku", "empty"}, names(params))
	count, _ := params.Get("count")
	assert.Equal(t, 2, count)
	enabled, _ := params.Get("enabled")
	assert.Equal(t, true, enabled)
	zones, _ := params.Get("zones")
	assert.Equal(t, []interface{}{1, 2}, zones)
	sku, _ := params.GetString("sku")
	assert.Equal(t, "P1v3", sku)
	empty, _ := params.Get("empty")
	assert.Equal(t, "", empty)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
}

func names(p engine.Parameters) []string {
	var out []string
	for _, item := range p.Items() {
		out = append(out, item.Name)
	}
	return out
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 3, ExitCode(engine.NewResourceExistsError("exists", engine.ResourceTypeKeyVault, "kv-a-dev", engine.ResourceExistsDetail{})))
	assert.Equal(t, 8, ExitCode(engine.NewProvisioningFailedError("failed", engine.ResourceTypeKeyVault, "kv-a-dev", engine.ProvisioningFailedDetail{})))
}
