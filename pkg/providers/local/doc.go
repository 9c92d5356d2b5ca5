// Package local implements engine.Backend as a sandbox over the SQLite
// inventory in package stores.
//
// Deploy writes the resource and a deployment record and completes at once.
// A Faults plan can inject throttled lookups, unavailable deployments,
// authorization failures or a non-Succeeded terminal state. Fixtures preload
// resource groups, networks and existing resources from YAML.
package local
