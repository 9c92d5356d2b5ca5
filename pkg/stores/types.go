package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openfroyo/provisioner/pkg/engine"
)

// ErrNotFound is returned by Get methods when no row matches.
var ErrNotFound = errors.New("not found")

// RunFilter selects runs for ListRuns.
type RunFilter struct {
	ResourceType engine.ResourceType
	Status       engine.RunStatus
	Limit        int
	Offset       int
}

// Deployment is a recorded backend deployment.
type Deployment struct {
	Name          string                 `json:"name"`
	ResourceID    string                 `json:"resource_id,omitempty"`
	ResourceType  engine.ResourceType    `json:"resource_type"`
	ResourceGroup string                 `json:"resource_group"`
	Template      string                 `json:"template,omitempty"`
	Parameters    string                 `json:"parameters"` // JSON array
	State         engine.DeploymentState `json:"state"`
	CorrelationID string                 `json:"correlation_id"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AuditEntry represents an audit trail entry.
type AuditEntry struct {
	ID           int64                  `json:"id"`
	RunID        string                 `json:"run_id,omitempty"`
	Action       string                 `json:"action"` // e.g. "run.started", "resource.deployed"
	Actor        string                 `json:"actor,omitempty"`
	ResourcePath string                 `json:"resource_path,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Store defines the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run history
	engine.RunRecorder
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error)

	// Events
	AppendEvent(ctx context.Context, event engine.Event) error
	GetEvents(ctx context.Context, filter engine.EventFilter) ([]engine.Event, error)

	// Resource state
	UpsertResourceGroup(ctx context.Context, group *engine.ResourceGroupInfo) error
	GetResourceGroup(ctx context.Context, name string) (*engine.ResourceGroupInfo, error)
	ListResourceGroups(ctx context.Context) ([]*engine.ResourceGroupInfo, error)
	UpsertVirtualNetwork(ctx context.Context, network *engine.NetworkInfo) error
	GetVirtualNetwork(ctx context.Context, group, name string) (*engine.NetworkInfo, error)
	UpsertResource(ctx context.Context, resource *engine.ResourceInfo) error
	GetResource(ctx context.Context, resourceType engine.ResourceType, group, name string) (*engine.ResourceInfo, error)
	ListResources(ctx context.Context, group string) ([]*engine.ResourceInfo, error)

	// Deployments
	RecordDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, name string) (*Deployment, error)

	// Audit
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, runID string, limit int) ([]*AuditEntry, error)
}
