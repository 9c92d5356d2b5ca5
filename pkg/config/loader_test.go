package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader(zerolog.Nop()).Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Sources)
	assert.Equal(t, DefaultSettings(), cfg.Settings)

	v, ok := cfg.Table().Lookup("Regions.Default.prod")
	require.True(t, ok)
	assert.Equal(t, "northeurope", v)
}

func TestLoader_MergeOrder(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeConfig(t, dir, "base.yaml", `
Regions:
  Default:
    prod: eastus
Tiers:
  VirtualMachine:
    dev: Standard_A1
`)
	tomlPath := writeConfig(t, dir, "override.toml", `
[Regions.Default]
prod = "swedencentral"
`)

	cfg, err := NewLoader(zerolog.Nop()).Load(yamlPath, tomlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{yamlPath, tomlPath}, cfg.Sources)

	r := NewResolver(cfg)
	region, _ := r.DefaultRegion(engine.EnvironmentProd)
	assert.Equal(t, "swedencentral", region)

	// Untouched defaults survive the merge.
	region, _ = r.DefaultRegion(engine.EnvironmentDev)
	assert.Equal(t, "westeurope", region)

	tier, _ := r.DefaultTier(engine.ResourceTypeVirtualMachine, engine.EnvironmentDev)
	assert.Equal(t, "Standard_A1", tier)
	tier, _ = r.DefaultTier(engine.ResourceTypeVirtualMachine, engine.EnvironmentProd)
	assert.Equal(t, "Standard_D4s_v5", tier)
}

func TestLoader_CUEWithSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "provisioner.cue", `
Templates: KeyVault: "templates/custom-kv.json"
Provisioner: {
	name_mode:       "strict"
	strict_existing: true
	retry: {
		max_attempts: 5
		base_delay:   "2s"
		max_delay:    60
	}
	events: capacity: 50
}
`)

	cfg, err := NewLoader(zerolog.Nop()).Load(path)
	require.NoError(t, err)

	s := cfg.Settings
	assert.Equal(t, engine.NameModeStrict, s.NameMode)
	assert.True(t, s.StrictExisting)
	assert.Equal(t, 5, s.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, s.Retry.BaseDelay.Std())
	assert.Equal(t, time.Minute, s.Retry.MaxDelay.Std())
	assert.Equal(t, 50, s.Events.Capacity)

	policy := s.Retry.Policy("deploy")
	assert.Equal(t, "deploy", policy.ActivityLabel)
	assert.Equal(t, 5, policy.MaxAttempts)

	tmpl, ok := NewResolver(cfg).Template(engine.ResourceTypeKeyVault)
	require.True(t, ok)
	assert.Equal(t, "templates/custom-kv.json", tmpl)
}

func TestLoader_JSONAndDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "b.json", `{"Regions":{"Default":{"test":"francecentral"}}}`)
	writeConfig(t, dir, "a.yml", "Regions:\n  Default:\n    test: uksouth\n")
	writeConfig(t, dir, "notes.txt", "ignored")

	cfg, err := NewLoader(zerolog.Nop()).Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 2)

	region, _ := NewResolver(cfg).DefaultRegion(engine.EnvironmentTest)
	assert.Equal(t, "francecentral", region)
}

func TestLoader_Starlark(t *testing.T) {
	dir := t.TempDir()
	base := writeConfig(t, dir, "base.yaml", `
Regions:
  Default:
    prod: eastus
`)
	script := writeConfig(t, dir, "tiers.star", `
_envs = ["dev", "test", "prod"]

def vm_size(env):
    if env == "prod":
        return "Standard_D8s_v5"
    return "Standard_B1s"

Tiers = {
    "KeyVault": {env: "premium" for env in _envs},
    "VirtualMachine": {env: vm_size(env) for env in _envs},
}

# Test runs in the production region of the earlier layer.
Regions = {"Default": {"test": config["Regions"]["Default"]["prod"]}}

Provisioner = struct(
    deployment_prefix = "star",
    retry = {"max_attempts": 2 + 2},
)
`)

	cfg, err := NewLoader(zerolog.Nop()).Load(base, script)
	require.NoError(t, err)
	assert.Equal(t, []string{base, script}, cfg.Sources)

	r := NewResolver(cfg)
	region, _ := r.DefaultRegion(engine.EnvironmentTest)
	assert.Equal(t, "eastus", region)
	region, _ = r.DefaultRegion(engine.EnvironmentDev)
	assert.Equal(t, "westeurope", region)

	tier, _ := r.DefaultTier(engine.ResourceTypeKeyVault, engine.EnvironmentDev)
	assert.Equal(t, "premium", tier)
	tier, _ = r.DefaultTier(engine.ResourceTypeVirtualMachine, engine.EnvironmentProd)
	assert.Equal(t, "Standard_D8s_v5", tier)
	tier, _ = r.DefaultTier(engine.ResourceTypeWebApp, engine.EnvironmentProd)
	assert.Equal(t, "P1v3", tier, "sections the script does not set keep their defaults")

	assert.Equal(t, "star", cfg.Settings.DeploymentPrefix)
	assert.Equal(t, 4, cfg.Settings.Retry.MaxAttempts)

	_, ok := cfg.Table().Lookup("vm_size")
	assert.False(t, ok, "functions are not exported")
	_, ok = cfg.Table().Lookup("_envs")
	assert.False(t, ok, "private globals are not exported")
}

func TestLoader_StarlarkErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("syntax", func(t *testing.T) {
		path := writeConfig(t, dir, "broken.star", "Tiers = {\n")
		_, err := NewLoader(zerolog.Nop()).Load(path)

		var loadErrs LoadErrors
		require.True(t, errors.As(err, &loadErrs))
		assert.Equal(t, path, loadErrs[0].File)
		assert.Positive(t, loadErrs[0].Line)
	})

	t.Run("schema", func(t *testing.T) {
		path := writeConfig(t, dir, "regions.star", `Regions = {"Default": {"staging": "eastus"}}`)
		_, err := NewLoader(zerolog.Nop()).Load(path)
		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		path := writeConfig(t, dir, "spin.star", `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

total = spin()
`)
		_, err := NewLoader(zerolog.Nop(), WithStarlarkTimeout(50*time.Millisecond)).Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
	})
}

func TestLoader_SchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
Provisioner:
  name_mode: lenient
`)

	_, err := NewLoader(zerolog.Nop()).Load(path)
	require.Error(t, err)

	var loadErrs LoadErrors
	require.True(t, errors.As(err, &loadErrs))
	assert.NotEmpty(t, loadErrs)
}

func TestLoader_UnknownEnvironmentKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
Regions:
  Default:
    staging: eastus
`)

	_, err := NewLoader(zerolog.Nop()).Load(path)
	assert.Error(t, err)
}

func TestLoader_SettingsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.json", `{"Provisioner":{"deployment_prefix":"has spaces"}}`)

	_, err := NewLoader(zerolog.Nop()).Load(path)
	assert.Error(t, err)
}

func TestLoader_ParseErrorsCarryFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "broken.cue", `Regions: {`)

	_, err := NewLoader(zerolog.Nop()).Load(path)
	require.Error(t, err)

	var loadErrs LoadErrors
	require.True(t, errors.As(err, &loadErrs))
	assert.Contains(t, loadErrs[0].File, "broken.cue")
}

func TestLoader_MissingPath(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoader_LoadInline(t *testing.T) {
	cfg, err := NewLoader(zerolog.Nop()).LoadInline(`Provisioner: deployment_prefix: "ops"`)
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Settings.DeploymentPrefix)
}

func TestTable_Queries(t *testing.T) {
	table := NewTable(Defaults())

	keys := table.KeysWithPrefix("Regions.Default")
	assert.Equal(t, []string{"Regions.Default.dev", "Regions.Default.prod", "Regions.Default.test"}, keys)

	section, ok := table.Section(SectionTiers)
	require.True(t, ok)
	section["VirtualMachine"] = "mutated"

	v, ok := table.Lookup("Tiers.VirtualMachine.dev")
	require.True(t, ok)
	assert.Equal(t, "Standard_B2s", v)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1500ms"`)))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`2`)))
	assert.Equal(t, 2*time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}
