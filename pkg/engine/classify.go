package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StatusError is a provider response carrying an HTTP status. Backends return
// it for failed calls so the classifier can tell transient from fatal.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Classification is the verdict on a raw error.
type Classification struct {
	// Transient reports whether the failure may succeed on retry.
	Transient bool

	// Category is the taxonomy kind for a fatal failure.
	Category Category

	// Code is the error code carried into the taxonomy error.
	Code string

	// RetryAfter is the provider's retry hint, if any.
	RetryAfter time.Duration
}

// Matcher inspects an error and returns a classification when it recognises it.
type Matcher func(err error) (Classification, bool)

// Classifier maps provider errors onto the taxonomy. Matchers are consulted in
// order; the first match wins.
type Classifier struct {
	matchers []Matcher
}

// defaultClassifier decides whether the cause of a taxonomy error is
// retryable.
var defaultClassifier = NewClassifier()

// NewClassifier returns a classifier using the builtin matchers, preceded by extra.
func NewClassifier(extra ...Matcher) *Classifier {
	matchers := make([]Matcher, 0, len(extra)+7)
	matchers = append(matchers, extra...)
	matchers = append(matchers,
		matchTaxonomy,
		matchContext,
		matchStatusError,
		matchHCloud,
		matchSmithy,
		matchGRPC,
		matchNetwork,
	)
	return &Classifier{matchers: matchers}
}

// Classify returns the classification of err. Unrecognised errors are fatal
// with code UnknownError unless their message carries a transient signal.
func (c *Classifier) Classify(err error) Classification {
	for _, m := range c.matchers {
		if class, ok := m(err); ok {
			return class
		}
	}
	if hasTransientSignal(err.Error()) {
		return Classification{Transient: true, Category: CategoryTransient, Code: ErrCodeUnavailable}
	}
	return Classification{Category: CategoryProvisioningFailed, Code: ErrCodeUnknown}
}

// IsTransient reports whether err should be retried.
func (c *Classifier) IsTransient(err error) bool {
	return err != nil && c.Classify(err).Transient
}

// Normalize converts err into a taxonomy error using its classification.
func (c *Classifier) Normalize(err error, resourceType ResourceType, resourceName string) *ProvisioningError {
	if err == nil {
		return nil
	}
	if e, ok := AsProvisioningError(err); ok {
		return e.WithResource(resourceType, resourceName)
	}
	class := c.Classify(err)
	msg := err.Error()
	var e *ProvisioningError
	switch class.Category {
	case CategoryTransient:
		e = NewTransientError(msg, resourceType, resourceName, TransientDetail{RetryAfter: class.RetryAfter})
	case CategoryAuthorization:
		e = NewAuthorizationError(msg, resourceType, resourceName, AuthorizationDetail{})
	case CategoryValidation:
		e = NewValidationError(msg, resourceType, resourceName, ValidationDetail{Rule: class.Code})
	case CategoryDependency:
		e = NewDependencyError(msg, resourceType, resourceName, DependencyDetail{})
	default:
		return Normalize(err, resourceType, resourceName).WithCode(class.Code)
	}
	if class.Code != "" {
		e = e.WithCode(class.Code)
	}
	return e.WithCause(err)
}

func transient(code string, retryAfter time.Duration) Classification {
	return Classification{Transient: true, Category: CategoryTransient, Code: code, RetryAfter: retryAfter}
}

func fatal(category Category, code string) Classification {
	return Classification{Category: category, Code: code}
}

func matchTaxonomy(err error) (Classification, bool) {
	e, ok := AsProvisioningError(err)
	if !ok {
		return Classification{}, false
	}
	return Classification{
		Transient:  e.Retryable,
		Category:   e.Category,
		Code:       e.Code,
		RetryAfter: e.RetryAfter(),
	}, true
}

func matchContext(err error) (Classification, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return fatal(CategoryProvisioningFailed, ErrCodeCanceled), true
	case errors.Is(err, context.DeadlineExceeded):
		return fatal(CategoryProvisioningFailed, ErrCodeTimeout), true
	}
	return Classification{}, false
}

func matchStatusError(err error) (Classification, bool) {
	var se *StatusError
	if !errors.As(err, &se) {
		return Classification{}, false
	}
	switch se.StatusCode {
	case http.StatusTooManyRequests:
		return transient(ErrCodeRateLimited, se.RetryAfter), true
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return transient(ErrCodeTimeout, se.RetryAfter), true
	case http.StatusConflict:
		return transient(ErrCodeConflict, se.RetryAfter), true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return transient(ErrCodeUnavailable, se.RetryAfter), true
	case http.StatusUnauthorized, http.StatusForbidden:
		return fatal(CategoryAuthorization, ErrCodePermissionDenied), true
	case http.StatusNotFound:
		return fatal(CategoryProvisioningFailed, ErrCodeNotFound), true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fatal(CategoryProvisioningFailed, ErrCodeBadRequest), true
	}
	return fatal(CategoryProvisioningFailed, ErrCodeUnknown), true
}

func matchHCloud(err error) (Classification, bool) {
	var he hcloud.Error
	if !errors.As(err, &he) {
		return Classification{}, false
	}
	switch he.Code {
	case hcloud.ErrorCodeRateLimitExceeded:
		return transient(ErrCodeRateLimited, 0), true
	case hcloud.ErrorCodeLocked, hcloud.ErrorCodeResourceLocked, hcloud.ErrorCodeConflict:
		return transient(ErrCodeConflict, 0), true
	case hcloud.ErrorCodeResourceUnavailable, hcloud.ErrorCodeServiceError:
		return transient(ErrCodeUnavailable, 0), true
	case hcloud.ErrorCodeUnauthorized, hcloud.ErrorCodeForbidden:
		return fatal(CategoryAuthorization, ErrCodePermissionDenied), true
	case hcloud.ErrorCodeNotFound:
		return fatal(CategoryProvisioningFailed, ErrCodeNotFound), true
	case hcloud.ErrorCodeInvalidInput:
		return fatal(CategoryProvisioningFailed, ErrCodeBadRequest), true
	}
	return fatal(CategoryProvisioningFailed, string(he.Code)), true
}

var smithyTransientCodes = map[string]string{
	"Throttling":                             ErrCodeRateLimited,
	"ThrottlingException":                    ErrCodeRateLimited,
	"ThrottledException":                     ErrCodeRateLimited,
	"TooManyRequestsException":               ErrCodeRateLimited,
	"RequestLimitExceeded":                   ErrCodeRateLimited,
	"SlowDown":                               ErrCodeRateLimited,
	"ProvisionedThroughputExceededException": ErrCodeRateLimited,
	"RequestTimeout":                         ErrCodeTimeout,
	"RequestTimeoutException":                ErrCodeTimeout,
	"ServiceUnavailable":                     ErrCodeUnavailable,
	"InternalError":                          ErrCodeUnavailable,
	"OperationAborted":                       ErrCodeConflict,
	"ConflictException":                      ErrCodeConflict,
}

var smithyAuthCodes = map[string]bool{
	"AccessDenied":            true,
	"AccessDeniedException":   true,
	"UnauthorizedOperation":   true,
	"ExpiredToken":            true,
	"InvalidAccessKeyId":      true,
	"SignatureDoesNotMatch":   true,
	"UnrecognizedClientError": true,
}

func matchSmithy(err error) (Classification, bool) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return Classification{}, false
	}
	code := apiErr.ErrorCode()
	if mapped, ok := smithyTransientCodes[code]; ok {
		return transient(mapped, 0), true
	}
	if smithyAuthCodes[code] {
		return fatal(CategoryAuthorization, ErrCodePermissionDenied), true
	}
	if apiErr.ErrorFault() == smithy.FaultServer {
		return transient(ErrCodeUnavailable, 0), true
	}
	return fatal(CategoryProvisioningFailed, code), true
}

func matchGRPC(err error) (Classification, bool) {
	var grpcErr interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &grpcErr) {
		return Classification{}, false
	}
	st := grpcErr.GRPCStatus()
	switch st.Code() {
	case codes.Unavailable:
		return transient(ErrCodeUnavailable, 0), true
	case codes.ResourceExhausted:
		return transient(ErrCodeRateLimited, 0), true
	case codes.Aborted:
		return transient(ErrCodeConflict, 0), true
	case codes.PermissionDenied, codes.Unauthenticated:
		return fatal(CategoryAuthorization, ErrCodePermissionDenied), true
	case codes.NotFound:
		return fatal(CategoryProvisioningFailed, ErrCodeNotFound), true
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fatal(CategoryProvisioningFailed, ErrCodeBadRequest), true
	}
	return fatal(CategoryProvisioningFailed, st.Code().String()), true
}

func matchNetwork(err error) (Classification, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient(ErrCodeTimeout, 0), true
	}
	return Classification{}, false
}

var transientSignals = []string{
	"throttl",
	"too many requests",
	"rate limit",
	"temporarily unavailable",
	"service unavailable",
	"retry later",
	"another operation is in progress",
}

func hasTransientSignal(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range transientSignals {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
