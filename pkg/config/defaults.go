package config

import "github.com/openfroyo/provisioner/pkg/engine"

// Defaults returns the builtin configuration document. Loaded files are
// merged over it.
func Defaults() map[string]interface{} {
	tiers := map[string]interface{}{
		engine.ResourceTypeVirtualMachine.ConfigKey(): map[string]interface{}{
			"dev":  "Standard_B2s",
			"test": "Standard_D2s_v5",
			"prod": "Standard_D4s_v5",
		},
		engine.ResourceTypeWebApp.ConfigKey(): map[string]interface{}{
			"dev":  "B1",
			"test": "S1",
			"prod": "P1v3",
		},
		engine.ResourceTypeStorageAccount.ConfigKey(): map[string]interface{}{
			"dev":  "Standard_LRS",
			"test": "Standard_LRS",
			"prod": "Standard_GRS",
		},
		engine.ResourceTypeKeyVault.ConfigKey(): map[string]interface{}{
			"dev":  "standard",
			"test": "standard",
			"prod": "premium",
		},
	}

	templates := map[string]interface{}{}
	for _, rt := range engine.AllResourceTypes() {
		templates[rt.ConfigKey()] = "templates/" + string(rt) + ".json"
	}

	return map[string]interface{}{
		SectionRegions: map[string]interface{}{
			"Default": map[string]interface{}{
				"dev":  "westeurope",
				"test": "westeurope",
				"prod": "northeurope",
			},
		},
		SectionTiers:     tiers,
		SectionTemplates: templates,
	}
}
