package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/stores"
)

// ExampleOpen demonstrates opening and migrating an in-memory store.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println(store.HealthCheck(ctx) == nil)
	// Output: true
}

// ExampleSQLiteStore_UpsertResource demonstrates recording resource state.
func ExampleSQLiteStore_UpsertResource() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.MemoryPath)
	defer store.Close()

	// Resources require their group.
	_ = store.UpsertResourceGroup(ctx, &engine.ResourceGroupInfo{Name: "rg-dev", Location: "westeurope"})

	err := store.UpsertResource(ctx, &engine.ResourceInfo{
		Type:              engine.ResourceTypeKeyVault,
		Name:              "kv-dev-secrets",
		ResourceGroup:     "rg-dev",
		Location:          "westeurope",
		Tier:              "standard",
		ProvisioningState: "Succeeded",
	})
	if err != nil {
		log.Fatal(err)
	}

	got, _ := store.GetResource(ctx, engine.ResourceTypeKeyVault, "rg-dev", "kv-dev-secrets")
	fmt.Println(got.ID)
	fmt.Println(got.Tier)
	// Output:
	// /resourceGroups/rg-dev/providers/Microsoft.KeyVault/vaults/kv-dev-secrets
	// standard
}
