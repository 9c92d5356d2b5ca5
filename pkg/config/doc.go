// Package config loads the provisioner's layered configuration and resolves
// defaults from it.
//
// # Overview
//
// Configuration is a read-only table of dot-separated keys such as
// "Regions.Default.prod" or "Tiers.VirtualMachine.dev". It is built once from
// the builtin Defaults() with any number of files merged over it, in order.
// CUE, YAML, TOML and JSON files are accepted; directories contribute their
// files in lexical order.
//
// The merged document is checked against a builtin CUE schema and the
// Provisioner section is decoded into Settings and validated with struct
// tags.
//
// # Resolution
//
// Resolver.Resolve(path, env, explicit) returns the first of:
//
//  1. explicit, unless it is nil, "" or "default"
//  2. <path>.<env>
//  3. <path>.default
//  4. <path> when it is a leaf
//
// Absence is not an error. DefaultTier, DefaultRegion and Template are
// shorthands over the well-known sections and satisfy engine.ConfigSource.
//
// # Example
//
//	cfg, err := config.NewLoader(logger).Load("provisioner.cue")
//	if err != nil {
//	    return err
//	}
//	resolver := config.NewResolver(cfg)
//	region, ok := resolver.DefaultRegion(engine.EnvironmentProd)
//
// A configuration file in CUE:
//
//	Regions: Default: prod: "swedencentral"
//	Tiers: VirtualMachine: default: "Standard_B2s"
//	Provisioner: {
//	    name_mode: "strict"
//	    retry: {max_attempts: 4, base_delay: "2s"}
//	}
package config
