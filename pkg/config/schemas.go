package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds CUE definitions configuration documents are checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	mu      sync.RWMutex
	schemas map[string]cue.Value
}

// NewSchemaRegistry creates a registry with the builtin provisioner schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.Register("provisioner", builtinProvisionerSchema, "#Provisioner"); err != nil {
		panic(fmt.Sprintf("builtin schema does not compile: %v", err))
	}
	return sr
}

// Register compiles src and registers the definition at path under name.
func (sr *SchemaRegistry) Register(name, src, path string) error {
	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, path)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// Validate checks doc against the named schema.
func (sr *SchemaRegistry) Validate(name string, doc map[string]interface{}) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[name]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}

	data := sr.ctx.Encode(doc)
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

const builtinProvisionerSchema = `
#Environment: "dev" | "test" | "prod" | "default"

#Provisioner: {
	// Regions.Default.<env> is the default region per environment.
	Regions?: {
		Default?: [#Environment]: string
		[string]: _
	}

	// Tiers.<Type>.<env> is the default tier per resource type.
	Tiers?: [string]: [#Environment]: string

	// Templates.<Type> is the deployment template reference.
	Templates?: [string]: string

	Provisioner?: {
		name_mode?:       "soft" | "strict"
		strict_existing?: bool
		retry?: {
			max_attempts?: number & >=1 & <=10
			base_delay?:   string | number
			max_delay?:    string | number
		}
		events?: {
			capacity?: number & >0
			file?:     string
			archive?: {
				bucket:      string
				region:      string
				prefix?:     string
				endpoint?:   string
				access_key?: string
				secret_key?: string
				kinds?:      [...string]
			}
		}
		database?:          string
		policy_paths?:      [...string]
		deployment_prefix?: string
	}

	...
}
`
