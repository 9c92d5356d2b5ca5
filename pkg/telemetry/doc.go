// Package telemetry provides observability for the provisioner: structured
// logging (zerolog), tracing (OpenTelemetry), metrics (Prometheus) and the
// provisioning event store.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Event Store
//
// EventStore implements engine.EventSink and engine.EventQuerier. It keeps
// the newest Capacity events in memory and evicts the oldest first. Each
// event can also be:
//
//   - appended to a JSON-lines file (EventsConfig.File)
//   - persisted through an EventPersister such as stores.SQLiteStore
//   - delivered to subscribers such as S3Archiver
//
// Persistence and subscribers run on a background goroutine fed by a
// bounded channel. A full channel or a failing sink is logged at warn level
// and never fails the provisioning call that emitted the event.
//
// Tests construct their own store and call Reset between cases.
//
// # Metrics
//
// Metrics uses a private registry. Record methods are no-ops on a disabled
// or nil Metrics. RetryHook adapts Metrics to engine.WithRetryHook:
//
//	retry := engine.NewRetryExecutor(engine.WithRetryHook(tel.Metrics.RetryHook()))
//
// # Tracing
//
// The orchestrator opens one span per invocation and a child span per
// state. Exporters are stdout, otlp (gRPC) or none.
package telemetry
