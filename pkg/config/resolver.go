package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/provisioner/pkg/engine"
)

// Source identifies where a resolved value came from.
type Source string

const (
	// SourceExplicit is a caller-supplied value.
	SourceExplicit Source = "explicit"

	// SourceEnvironment is the <path>.<env> entry.
	SourceEnvironment Source = "environment"

	// SourceDefault is the <path>.default entry.
	SourceDefault Source = "default"

	// SourceLeaf is a plain leaf at <path>.
	SourceLeaf Source = "leaf"
)

// sentinelDefault marks an explicit value that defers to configuration.
const sentinelDefault = "default"

// Resolution is a resolved value and its provenance.
type Resolution struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
	Key    string      `json:"key,omitempty"`
}

// String returns the value formatted as a string.
func (r Resolution) String() string {
	if s, ok := r.Value.(string); ok {
		return s
	}
	return fmt.Sprint(r.Value)
}

// Resolver answers layered lookups against a loaded table. It never mutates
// the table and is safe for concurrent use.
type Resolver struct {
	table *Table
}

var _ engine.ConfigSource = (*Resolver)(nil)

// NewResolver creates a resolver over cfg.
func NewResolver(cfg *Config) *Resolver {
	if cfg == nil {
		return &Resolver{table: NewTable(Defaults())}
	}
	return &Resolver{table: cfg.table}
}

// NewResolverFromTable creates a resolver over t.
func NewResolverFromTable(t *Table) *Resolver {
	return &Resolver{table: t}
}

// IsSentinel reports whether an explicit value defers to configuration:
// nil, the empty string or "default" in any case.
func IsSentinel(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(val)
		return s == "" || strings.EqualFold(s, sentinelDefault)
	case *string:
		return val == nil || IsSentinel(*val)
	default:
		return false
	}
}

// Resolve returns, in order: explicit when it is not a sentinel, then
// <path>.<env>, then <path>.default, then <path> itself when it is a leaf.
func (r *Resolver) Resolve(path string, env engine.Environment, explicit interface{}) (Resolution, bool) {
	if !IsSentinel(explicit) {
		if p, ok := explicit.(*string); ok {
			explicit = *p
		}
		return Resolution{Value: explicit, Source: SourceExplicit}, true
	}

	if env != "" {
		key := path + "." + string(env)
		if v, ok := r.lookup(key); ok {
			return Resolution{Value: v, Source: SourceEnvironment, Key: key}, true
		}
	}

	key := path + "." + sentinelDefault
	if v, ok := r.lookup(key); ok {
		return Resolution{Value: v, Source: SourceDefault, Key: key}, true
	}

	if v, ok := r.lookup(path); ok {
		return Resolution{Value: v, Source: SourceLeaf, Key: path}, true
	}

	return Resolution{}, false
}

func (r *Resolver) lookup(key string) (interface{}, bool) {
	v, ok := r.table.Lookup(key)
	if !ok || IsSentinel(v) {
		return nil, false
	}
	return v, true
}

// Get returns the leaf at path without layering.
func (r *Resolver) Get(path string) (interface{}, bool) {
	return r.table.Lookup(path)
}

// Keys returns every configured leaf path.
func (r *Resolver) Keys() []string {
	return r.table.Keys()
}

// DefaultTier resolves Tiers.<Type>.<env>.
func (r *Resolver) DefaultTier(resourceType engine.ResourceType, env engine.Environment) (string, bool) {
	return r.resolveString(SectionTiers+"."+resourceType.ConfigKey(), env)
}

// DefaultRegion resolves Regions.Default.<env>.
func (r *Resolver) DefaultRegion(env engine.Environment) (string, bool) {
	return r.resolveString(SectionRegions+".Default", env)
}

// Template returns Templates.<Type>.
func (r *Resolver) Template(resourceType engine.ResourceType) (string, bool) {
	v, ok := r.lookup(SectionTemplates + "." + resourceType.ConfigKey())
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (r *Resolver) resolveString(path string, env engine.Environment) (string, bool) {
	res, ok := r.Resolve(path, env, nil)
	if !ok {
		return "", false
	}
	return res.String(), true
}
