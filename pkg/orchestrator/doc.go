// Package orchestrator provisions a single resource by running a request
// through the provisioning state machine:
//
//	Validating -> Resolving -> CheckingIdempotency
//	    -> Deploying -> Completed
//	    -> ReturningExisting
//	    -> Aborted -> Failed
//
// Any stage may end in Failed. Validating applies the naming policy.
// Resolving reads the resource group, fills location, tier and template from
// configuration and checks the virtual network a VM or web app joins.
// CheckingIdempotency runs the IdempotencyGate over a retried lookup.
// Deploying submits the deployment through the RetryExecutor and reads the
// created resource back.
//
// Every backend call gets its own span, attempt metric and retry policy.
// Each invocation appends events to the injected EventSink and, when
// configured, records a run and an audit entry. Errors leaving Provision are
// always *engine.ProvisioningError with State set to Failed.
package orchestrator
