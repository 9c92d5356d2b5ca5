package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisioningError_Constructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProvisioningError
		category Category
		code     string
	}{
		{"validation", NewValidationError("bad", ResourceTypeVirtualMachine, "x", ValidationDetail{Rule: "r"}), CategoryValidation, ErrCodeValidation},
		{"exists", NewResourceExistsError("exists", ResourceTypeWebApp, "x", ResourceExistsDetail{ResourceID: "id"}), CategoryResourceExists, ErrCodeAlreadyExists},
		{"dependency", NewDependencyError("missing", ResourceTypeWebApp, "x", DependencyDetail{DependencyType: "ResourceGroup"}), CategoryDependency, ErrCodeDependencyFailed},
		{"network", NewNetworkConfigurationError("net", ResourceTypeVirtualMachine, "x", NetworkConfigurationDetail{}), CategoryNetworkConfiguration, ErrCodeNetworkConfig},
		{"authorization", NewAuthorizationError("denied", ResourceTypeKeyVault, "x", AuthorizationDetail{}), CategoryAuthorization, ErrCodePermissionDenied},
		{"failed", NewProvisioningFailedError("failed", ResourceTypeStorageAccount, "x", ProvisioningFailedDetail{}), CategoryProvisioningFailed, ErrCodeDeploymentFailed},
		{"transient", NewTransientError("slow down", ResourceTypeStorageAccount, "x", TransientDetail{}), CategoryTransient, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.NoError(t, tt.err.Category.Validate())
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, "x", tt.err.ResourceName)
			assert.False(t, tt.err.Timestamp.IsZero())
			assert.Equal(t, tt.category == CategoryTransient, tt.err.Retryable)
			assert.Contains(t, tt.err.Error(), string(tt.category))
		})
	}
}

func TestProvisioningError_RetryableFollowsCause(t *testing.T) {
	base := NewProvisioningFailedError("failed", ResourceTypeWebApp, "app-x-dev", ProvisioningFailedDetail{})
	assert.False(t, base.Retryable)

	withTransient := base.WithCause(NewTransientError("busy", "", "", TransientDetail{}))
	assert.True(t, withTransient.Retryable)
	assert.False(t, base.Retryable, "enrichment must not mutate the original")

	withFatal := base.WithCause(errors.New("bad template"))
	assert.False(t, withFatal.Retryable)

	withStatus := base.WithCause(&StatusError{StatusCode: 503, Message: "unavailable"})
	assert.True(t, withStatus.Retryable, "a raw provider status is classified")

	withForbidden := base.WithCause(&StatusError{StatusCode: 403, Message: "forbidden"})
	assert.False(t, withForbidden.Retryable)
}

func TestProvisioningError_EnrichmentCopies(t *testing.T) {
	orig := NewTransientError("busy", ResourceTypeVirtualMachine, "vm-a-dev", TransientDetail{RetryAfter: time.Second})

	withID := orig.WithCorrelationID("corr-1")
	withAttempts := orig.WithAttemptCount(3)
	withState := orig.WithState(StateFailed)

	assert.Empty(t, orig.CorrelationID)
	assert.Equal(t, "corr-1", withID.CorrelationID)
	assert.Equal(t, 0, orig.Detail.(TransientDetail).AttemptCount)
	assert.Equal(t, 3, withAttempts.Detail.(TransientDetail).AttemptCount)
	assert.Equal(t, time.Second, withAttempts.RetryAfter())
	assert.Empty(t, orig.State)
	assert.Equal(t, StateFailed, withState.State)
}

func TestProvisioningError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w",
		NewDependencyError("rg missing", ResourceTypeVirtualMachine, "vm-a-dev", DependencyDetail{}))

	assert.ErrorIs(t, err, ErrDependency)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, &ProvisioningError{Category: CategoryDependency, Code: ErrCodeDependencyFailed})
	assert.NotErrorIs(t, err, &ProvisioningError{Category: CategoryDependency, Code: "OTHER"})
	assert.True(t, IsDependency(err))
	assert.Equal(t, CategoryDependency, CategoryOf(err))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil, ResourceTypeWebApp, "x"))

	raw := errors.New("socket closed")
	perr := Normalize(raw, ResourceTypeWebApp, "app-a-dev")
	require.NotNil(t, perr)
	assert.Equal(t, CategoryProvisioningFailed, perr.Category)
	assert.Equal(t, ErrCodeUnknown, perr.Code)
	assert.Same(t, raw, perr.Err)
	assert.Equal(t, ResourceTypeWebApp, perr.ResourceType)
	assert.Equal(t, "app-a-dev", perr.ResourceName)

	typed := NewTransientError("busy", "", "", TransientDetail{})
	filled := Normalize(typed, ResourceTypeWebApp, "app-a-dev")
	assert.Equal(t, CategoryTransient, filled.Category)
	assert.Equal(t, "app-a-dev", filled.ResourceName)
	assert.Empty(t, typed.ResourceName)

	complete := NewTransientError("busy", ResourceTypeKeyVault, "kv-a-dev", TransientDetail{})
	assert.Same(t, complete, Normalize(complete, ResourceTypeWebApp, "other"))
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	perr := NewValidationError("bad name", ResourceTypeVirtualMachine, "VM", ValidationDetail{Rule: "^vm-"})

	err := Report(logger, perr, ReportRaise)
	assert.Same(t, perr, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "ValidationError", entry["category"])
	assert.Equal(t, "^vm-", entry["rule"])

	buf.Reset()
	assert.NoError(t, Report(logger, errors.New("ignored"), ReportSwallow))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), ErrCodeUnknown)

	assert.NoError(t, Report(logger, nil, ReportRaise))
}
