package local

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/provisioner/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Fixtures describes sandbox state to preload, usually from a YAML file.
type Fixtures struct {
	// ResourceGroups are created first.
	ResourceGroups []GroupFixture `yaml:"resource_groups"`

	// Networks reference a group from ResourceGroups or the existing inventory.
	Networks []NetworkFixture `yaml:"networks"`

	// Resources are recorded as already provisioned.
	Resources []ResourceFixture `yaml:"resources"`

	// Faults is the fault plan applied after seeding.
	Faults *Faults `yaml:"faults,omitempty"`
}

// GroupFixture is a resource group to create.
type GroupFixture struct {
	Name     string            `yaml:"name"`
	Location string            `yaml:"location"`
	Tags     map[string]string `yaml:"tags,omitempty"`
}

// NetworkFixture is a virtual network to create.
type NetworkFixture struct {
	Name          string   `yaml:"name"`
	ResourceGroup string   `yaml:"resource_group"`
	AddressSpace  []string `yaml:"address_space,omitempty"`

	// State defaults to Succeeded.
	State string `yaml:"state,omitempty"`
}

// ResourceFixture is an existing resource.
type ResourceFixture struct {
	Type          string                 `yaml:"type"`
	Name          string                 `yaml:"name"`
	ResourceGroup string                 `yaml:"resource_group"`
	Location      string                 `yaml:"location,omitempty"`
	Tier          string                 `yaml:"tier,omitempty"`
	Properties    map[string]interface{} `yaml:"properties,omitempty"`
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures parses and validates fixtures from YAML bytes.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures YAML: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid fixtures: %w", err)
	}
	return &f, nil
}

func (f *Fixtures) validate() error {
	for i, g := range f.ResourceGroups {
		if g.Name == "" || g.Location == "" {
			return fmt.Errorf("resource_groups[%d]: name and location are required", i)
		}
	}
	for i, n := range f.Networks {
		if n.Name == "" || n.ResourceGroup == "" {
			return fmt.Errorf("networks[%d]: name and resource_group are required", i)
		}
	}
	for i, r := range f.Resources {
		if r.Name == "" || r.ResourceGroup == "" {
			return fmt.Errorf("resources[%d]: name and resource_group are required", i)
		}
		if _, err := engine.ParseResourceType(r.Type); err != nil {
			return fmt.Errorf("resources[%d]: %w", i, err)
		}
	}
	if f.Faults != nil && f.Faults.DeploymentState != "" {
		if err := f.Faults.DeploymentState.Validate(); err != nil {
			return fmt.Errorf("faults: %w", err)
		}
	}
	return nil
}

// Seed writes fixtures into the sandbox inventory.
func (b *Backend) Seed(ctx context.Context, f *Fixtures) error {
	for _, g := range f.ResourceGroups {
		if _, err := b.CreateResourceGroup(ctx, g.Name, g.Location, g.Tags); err != nil {
			return fmt.Errorf("failed to seed resource group %s: %w", g.Name, err)
		}
	}

	for _, n := range f.Networks {
		network := &engine.NetworkInfo{
			Name:              n.Name,
			ResourceGroup:     n.ResourceGroup,
			AddressSpace:      n.AddressSpace,
			ProvisioningState: n.State,
		}
		if err := b.CreateVirtualNetwork(ctx, network); err != nil {
			return fmt.Errorf("failed to seed network %s: %w", n.Name, err)
		}
	}

	for _, r := range f.Resources {
		rt, _ := engine.ParseResourceType(r.Type)
		resource := &engine.ResourceInfo{
			Type:              rt,
			Name:              r.Name,
			ResourceGroup:     r.ResourceGroup,
			Location:          r.Location,
			Tier:              r.Tier,
			ProvisioningState: string(engine.DeploymentSucceeded),
			Properties:        r.Properties,
		}
		if err := b.store.UpsertResource(ctx, resource); err != nil {
			return fmt.Errorf("failed to seed resource %s: %w", r.Name, err)
		}
	}

	if f.Faults != nil {
		b.SetFaults(*f.Faults)
	}

	b.logger.Info().
		Int("resource_groups", len(f.ResourceGroups)).
		Int("networks", len(f.Networks)).
		Int("resources", len(f.Resources)).
		Msg("Sandbox seeded")
	return nil
}
