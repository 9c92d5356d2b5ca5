package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/telemetry"
)

// Example_eventStore demonstrates querying the event store.
func Example_eventStore() {
	store, err := telemetry.NewEventStore(telemetry.EventsConfig{Capacity: 2})
	if err != nil {
		panic(err)
	}
	defer func() { _ = store.Shutdown(context.Background()) }()

	ctx := context.Background()
	for _, kind := range []engine.EventKind{
		engine.EventProvisioningStarted,
		engine.EventNameValidated,
		engine.EventConfigResolved,
	} {
		_ = store.Append(ctx, engine.Event{Kind: kind, Path: "virtual_machine/rg-app/vm-web-dev"})
	}

	events, _ := store.Events(ctx, engine.EventFilter{})
	for _, e := range events {
		fmt.Println(e.Kind)
	}
	// Output:
	// config.resolved
	// name.validated
}
