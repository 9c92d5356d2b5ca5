package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/provisioner/pkg/engine"
)

// Well-known table sections.
const (
	SectionRegions     = "Regions"
	SectionTiers       = "Tiers"
	SectionTemplates   = "Templates"
	SectionProvisioner = "Provisioner"
)

// Duration is a time.Duration that decodes from "1s" style strings or from a
// number of seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Settings is the Provisioner section of the configuration.
type Settings struct {
	// NameMode is the default naming policy mode.
	NameMode engine.NameMode `json:"name_mode" validate:"oneof=soft strict"`

	// StrictExisting raises ResourceExistsError instead of returning an
	// existing resource when an update is declined.
	StrictExisting bool `json:"strict_existing"`

	// Retry configures backoff for backend calls.
	Retry RetrySettings `json:"retry"`

	// Events configures the event store.
	Events EventSettings `json:"events"`

	// Database is the SQLite path for run history and the local backend.
	Database string `json:"database"`

	// PolicyPaths lists extra Rego policy files or directories.
	PolicyPaths []string `json:"policy_paths,omitempty"`

	// DeploymentPrefix is prepended to deployment names when set.
	DeploymentPrefix string `json:"deployment_prefix,omitempty" validate:"omitempty,alphanum,max=16"`
}

// RetrySettings configures the retry executor.
type RetrySettings struct {
	MaxAttempts int      `json:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   Duration `json:"base_delay" validate:"min=0"`
	MaxDelay    Duration `json:"max_delay" validate:"min=0"`
}

// Policy returns the retry policy for label.
func (r RetrySettings) Policy(label string) engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts:   r.MaxAttempts,
		BaseDelay:     r.BaseDelay.Std(),
		MaxDelay:      r.MaxDelay.Std(),
		ActivityLabel: label,
	}
}

// EventSettings configures the event store.
type EventSettings struct {
	Capacity int            `json:"capacity" validate:"min=1,max=100000"`
	File     string         `json:"file,omitempty"`
	Archive  *ArchiveConfig `json:"archive,omitempty"`
}

// ArchiveConfig configures S3 archival of events.
type ArchiveConfig struct {
	Bucket    string `json:"bucket" validate:"required"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region" validate:"required"`
	Endpoint  string `json:"endpoint,omitempty" validate:"omitempty,url"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`

	// Kinds limits archival to these event kinds. Empty archives every event.
	Kinds []string `json:"kinds,omitempty"`
}

// DefaultSettings returns the settings used when the section is absent.
func DefaultSettings() Settings {
	return Settings{
		NameMode: engine.NameModeSoft,
		Retry: RetrySettings{
			MaxAttempts: 3,
			BaseDelay:   Duration(time.Second),
			MaxDelay:    Duration(30 * time.Second),
		},
		Events: EventSettings{
			Capacity: 1000,
		},
	}
}

var settingsValidator = validator.New()

// Validate validates the settings using struct tags.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid provisioner settings: %w", err)
	}
	return nil
}

// LoadError is a configuration problem with its position, when known.
type LoadError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadErrors collects every problem found while loading.
type LoadErrors []LoadError

// Error implements the error interface.
func (e LoadErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return fmt.Sprintf("configuration errors: %s", strings.Join(msgs, "; "))
}
