package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the loaded configuration: the resolver table plus the decoded
// Provisioner settings.
type Config struct {
	// Sources lists the files merged, in order.
	Sources []string

	// Settings is the validated Provisioner section.
	Settings Settings

	table *Table
}

// Table returns the flattened configuration table.
func (c *Config) Table() *Table {
	return c.table
}

// Loader reads configuration files in CUE, YAML, TOML, JSON or Starlark and
// merges them over the builtin defaults.
type Loader struct {
	ctx     *cue.Context
	schemas *SchemaRegistry
	logger  zerolog.Logger

	starlarkTimeout time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStarlarkTimeout bounds the evaluation of each .star source.
func WithStarlarkTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.starlarkTimeout = d
		}
	}
}

// NewLoader creates a configuration loader.
func NewLoader(logger zerolog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		ctx:             cuecontext.New(),
		schemas:         NewSchemaRegistry(),
		logger:          logger.With().Str("component", "config").Logger(),
		starlarkTimeout: DefaultStarlarkTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var supportedExtensions = map[string]bool{
	".cue":  true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".json": true,
	".star": true,
}

// Load merges the given files and directories, in order, over Defaults().
// Directories contribute their supported files in lexical order. A .star
// file sees the document merged before it.
func (l *Loader) Load(paths ...string) (*Config, error) {
	doc := Defaults()
	var sources []string
	var problems LoadErrors

	for _, path := range paths {
		files, err := expand(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			fileDoc, err := l.decodeFile(file, doc)
			if err != nil {
				problems = append(problems, asLoadErrors(file, err)...)
				continue
			}
			doc = merge(doc, fileDoc)
			sources = append(sources, file)
		}
	}

	if len(problems) > 0 {
		return nil, problems
	}

	return l.build(doc, sources)
}

// LoadInline builds a configuration from an in-memory CUE document merged
// over the defaults.
func (l *Loader) LoadInline(src string) (*Config, error) {
	fileDoc, err := l.decodeCUE("inline", []byte(src))
	if err != nil {
		return nil, err
	}
	return l.build(merge(Defaults(), fileDoc), []string{"inline"})
}

func (l *Loader) build(doc map[string]interface{}, sources []string) (*Config, error) {
	if err := l.schemas.Validate("provisioner", doc); err != nil {
		return nil, err
	}

	settings, err := decodeSettings(doc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Sources:  sources,
		Settings: settings,
		table:    NewTable(doc),
	}

	l.logger.Debug().
		Strs("sources", sources).
		Int("keys", len(cfg.table.Keys())).
		Msg("Configuration loaded")

	return cfg, nil
}

func expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config source %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && supportedExtensions[strings.ToLower(filepath.Ext(file))] {
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk config directory %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) decodeFile(path string, current map[string]interface{}) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	doc := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return l.decodeCUE(path, data)
	case ".star":
		return l.decodeStarlark(path, data, current)
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file type: %s", path)
	}
	return doc, nil
}

func (l *Loader) decodeCUE(name string, data []byte) (map[string]interface{}, error) {
	val := l.ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	doc := map[string]interface{}{}
	if err := val.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode CUE: %w", err)
	}
	return doc, nil
}

func decodeSettings(doc map[string]interface{}) (Settings, error) {
	settings := DefaultSettings()
	section, ok := asMap(doc[SectionProvisioner])
	if !ok {
		return settings, settings.Validate()
	}

	data, err := json.Marshal(section)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to encode provisioner settings: %w", err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, LoadError{Path: SectionProvisioner, Message: err.Error()}
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func convertCUEErrors(err error) LoadErrors {
	var out LoadErrors
	for _, e := range cueerrors.Errors(err) {
		le := LoadError{Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			le.File = pos[0].Filename()
			le.Line = pos[0].Line()
			le.Column = pos[0].Column()
		}
		if p := e.Path(); len(p) > 0 {
			le.Path = strings.Join(p, ".")
		}
		out = append(out, le)
	}
	if len(out) == 0 {
		out = append(out, LoadError{Message: err.Error()})
	}
	return out
}

func asLoadErrors(file string, err error) LoadErrors {
	if les, ok := err.(LoadErrors); ok {
		for i := range les {
			if les[i].File == "" {
				les[i].File = file
			}
		}
		return les
	}
	return LoadErrors{{File: file, Message: err.Error()}}
}
