package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name      string
		err       error
		transient bool
		category  Category
		code      string
	}{
		{"http 429", &StatusError{StatusCode: 429}, true, CategoryTransient, ErrCodeRateLimited},
		{"http 408", &StatusError{StatusCode: 408}, true, CategoryTransient, ErrCodeTimeout},
		{"http 409", &StatusError{StatusCode: 409}, true, CategoryTransient, ErrCodeConflict},
		{"http 500", &StatusError{StatusCode: 500}, true, CategoryTransient, ErrCodeUnavailable},
		{"http 502", &StatusError{StatusCode: 502}, true, CategoryTransient, ErrCodeUnavailable},
		{"http 503", &StatusError{StatusCode: 503}, true, CategoryTransient, ErrCodeUnavailable},
		{"http 504", &StatusError{StatusCode: 504}, true, CategoryTransient, ErrCodeTimeout},
		{"http 400", &StatusError{StatusCode: 400}, false, CategoryProvisioningFailed, ErrCodeBadRequest},
		{"http 403", &StatusError{StatusCode: 403}, false, CategoryAuthorization, ErrCodePermissionDenied},
		{"http 404", &StatusError{StatusCode: 404}, false, CategoryProvisioningFailed, ErrCodeNotFound},
		{"wrapped http 503", fmt.Errorf("deploy: %w", &StatusError{StatusCode: 503}), true, CategoryTransient, ErrCodeUnavailable},
		{"hcloud rate limit", hcloud.Error{Code: hcloud.ErrorCodeRateLimitExceeded, Message: "slow"}, true, CategoryTransient, ErrCodeRateLimited},
		{"hcloud locked", hcloud.Error{Code: hcloud.ErrorCodeLocked, Message: "locked"}, true, CategoryTransient, ErrCodeConflict},
		{"hcloud conflict", hcloud.Error{Code: hcloud.ErrorCodeConflict, Message: "conflict"}, true, CategoryTransient, ErrCodeConflict},
		{"hcloud unavailable", hcloud.Error{Code: hcloud.ErrorCodeResourceUnavailable, Message: "gone"}, true, CategoryTransient, ErrCodeUnavailable},
		{"hcloud not found", hcloud.Error{Code: hcloud.ErrorCodeNotFound, Message: "missing"}, false, CategoryProvisioningFailed, ErrCodeNotFound},
		{"hcloud invalid", hcloud.Error{Code: hcloud.ErrorCodeInvalidInput, Message: "bad"}, false, CategoryProvisioningFailed, ErrCodeBadRequest},
		{"smithy throttling", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow"}, true, CategoryTransient, ErrCodeRateLimited},
		{"smithy slowdown", &smithy.GenericAPIError{Code: "SlowDown"}, true, CategoryTransient, ErrCodeRateLimited},
		{"smithy access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false, CategoryAuthorization, ErrCodePermissionDenied},
		{"smithy server fault", &smithy.GenericAPIError{Code: "Weird", Fault: smithy.FaultServer}, true, CategoryTransient, ErrCodeUnavailable},
		{"smithy client fault", &smithy.GenericAPIError{Code: "NoSuchBucket", Fault: smithy.FaultClient}, false, CategoryProvisioningFailed, "NoSuchBucket"},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true, CategoryTransient, ErrCodeUnavailable},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), true, CategoryTransient, ErrCodeRateLimited},
		{"grpc aborted", status.Error(codes.Aborted, "retry"), true, CategoryTransient, ErrCodeConflict},
		{"grpc denied", status.Error(codes.PermissionDenied, "no"), false, CategoryAuthorization, ErrCodePermissionDenied},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false, CategoryProvisioningFailed, ErrCodeBadRequest},
		{"context canceled", context.Canceled, false, CategoryProvisioningFailed, ErrCodeCanceled},
		{"taxonomy transient", NewTransientError("busy", "", "", TransientDetail{}), true, CategoryTransient, ""},
		{"taxonomy dependency", NewDependencyError("rg", "", "", DependencyDetail{}), false, CategoryDependency, ErrCodeDependencyFailed},
		{"throttled message", errors.New("request was throttled by upstream"), true, CategoryTransient, ErrCodeUnavailable},
		{"unknown", errors.New("template syntax error"), false, CategoryProvisioningFailed, ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := c.Classify(tt.err)
			assert.Equal(t, tt.transient, class.Transient)
			assert.Equal(t, tt.category, class.Category)
			assert.Equal(t, tt.code, class.Code)
			assert.Equal(t, tt.transient, c.IsTransient(tt.err))
		})
	}
}

func TestClassifier_RetryAfterFromStatus(t *testing.T) {
	class := NewClassifier().Classify(&StatusError{StatusCode: 429, RetryAfter: 7 * time.Second})
	assert.Equal(t, 7*time.Second, class.RetryAfter)
}

func TestClassifier_ExtraMatcherWins(t *testing.T) {
	sentinel := errors.New("quota window closed")
	c := NewClassifier(func(err error) (Classification, bool) {
		if errors.Is(err, sentinel) {
			return Classification{Transient: true, Category: CategoryTransient, Code: "QUOTA"}, true
		}
		return Classification{}, false
	})

	assert.True(t, c.IsTransient(sentinel))
	assert.False(t, c.IsTransient(errors.New("other")))
}

func TestClassifier_Normalize(t *testing.T) {
	c := NewClassifier()

	perr := c.Normalize(&StatusError{StatusCode: 503, RetryAfter: time.Second}, ResourceTypeWebApp, "app-a-dev")
	assert.Equal(t, CategoryTransient, perr.Category)
	assert.Equal(t, ErrCodeUnavailable, perr.Code)
	assert.Equal(t, time.Second, perr.RetryAfter())
	assert.True(t, perr.Retryable)

	auth := c.Normalize(status.Error(codes.PermissionDenied, "no"), ResourceTypeKeyVault, "kv-a-dev")
	assert.Equal(t, CategoryAuthorization, auth.Category)
	assert.Equal(t, "kv-a-dev", auth.ResourceName)

	unknown := c.Normalize(errors.New("template syntax error"), ResourceTypeWebApp, "app-a-dev")
	assert.Equal(t, CategoryProvisioningFailed, unknown.Category)
	assert.Equal(t, ErrCodeUnknown, unknown.Code)

	notFound := c.Normalize(&StatusError{StatusCode: 404}, ResourceTypeWebApp, "app-a-dev")
	assert.Equal(t, CategoryProvisioningFailed, notFound.Category)
	assert.Equal(t, ErrCodeNotFound, notFound.Code)

	assert.Nil(t, c.Normalize(nil, ResourceTypeWebApp, "x"))
}
