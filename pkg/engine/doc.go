// Package engine provides the core types of the provisioning kernel.
//
// # Overview
//
// Every provisioning operation follows the same sequence:
//
//  1. Validate - apply naming policy to the requested name (NameValidator)
//  2. Resolve - fill region and tier from layered configuration (ConfigSource)
//  3. Decide - check for an existing resource (IdempotencyGate)
//  4. Deploy - submit the template with bounded retries (RetryExecutor)
//  5. Report - map the outcome onto a Result or a ProvisioningError
//
// The sequence itself lives in package orchestrator; this package holds the
// pieces it composes.
//
// # Errors
//
// All failures are *ProvisioningError values with one of seven categories:
//
//   - ValidationError: input or naming rule rejected
//   - ResourceExistsError: target exists and strict mode forbids reuse
//   - DependencyError: prerequisite missing or unusable
//   - NetworkConfigurationError: referenced network not usable
//   - AuthorizationError: permission missing
//   - ProvisioningFailedError: deployment failed, or an unknown error
//   - TransientError: temporary, retryable
//
// Provider errors (HTTP statuses, Hetzner Cloud codes, AWS API codes, gRPC
// statuses) are mapped onto the taxonomy by a Classifier:
//
//	classifier := engine.NewClassifier()
//	perr := classifier.Normalize(err, engine.ResourceTypeVirtualMachine, "vm-app-dev")
//
// # Retries
//
// Execute runs an operation under a RetryPolicy:
//
//	exec := engine.NewRetryExecutor(engine.WithRetryLogger(logger))
//	info, err := engine.Execute(ctx, exec, engine.DefaultRetryPolicy("lookup"),
//	    func(ctx context.Context) (*engine.ResourceInfo, error) {
//	        return backend.GetResource(ctx, rt, group, name)
//	    })
//
// Only transient failures are retried. Delays double from BaseDelay and never
// shrink; there is no jitter.
package engine
