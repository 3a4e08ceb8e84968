// Package problem implements RFC 7807 Problem Details responses and the
// ARCP error taxonomy. Every error surfaced to an HTTP client maps to a
// stable problem type URI so callers can switch on `type` rather than
// parse human-readable messages.
package problem

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arcp-io/arcp/internal/sanitize"
)

// ContentType is the media type for problem responses.
const ContentType = "application/problem+json"

// typeBase is the prefix of every ARCP problem type URI.
const typeBase = "https://arcp.io/problems/"

// Kind identifies one entry in the ARCP error taxonomy.
type Kind string

const (
	KindAuthenticationFailed    Kind = "authentication-failed"
	KindInsufficientPermissions Kind = "insufficient-permissions"
	KindAgentNotFound           Kind = "agent-not-found"
	KindAgentRegistrationError  Kind = "agent-registration-error"
	KindAgentKeyInUse           Kind = "agent-key-in-use"
	KindTokenValidationError    Kind = "token-validation-error"
	KindAgentUnreachable        Kind = "agent-unreachable"
	KindValidationError         Kind = "validation-error"
	KindRateLimitExceeded       Kind = "rate-limit-exceeded"
	KindPinRequired             Kind = "pin-required"
	KindConfigurationError      Kind = "configuration-error"
	KindInternalError           Kind = "internal-error"
)

// statusFor maps each taxonomy kind to its HTTP status code.
var statusFor = map[Kind]int{
	KindAuthenticationFailed:    http.StatusUnauthorized,
	KindInsufficientPermissions: http.StatusForbidden,
	KindAgentNotFound:           http.StatusNotFound,
	KindAgentRegistrationError:  http.StatusBadRequest,
	KindAgentKeyInUse:           http.StatusConflict,
	KindTokenValidationError:    http.StatusUnauthorized,
	KindAgentUnreachable:        http.StatusBadGateway,
	KindValidationError:         http.StatusUnprocessableEntity,
	KindRateLimitExceeded:       http.StatusTooManyRequests,
	KindPinRequired:             http.StatusBadRequest,
	KindConfigurationError:      http.StatusInternalServerError,
	KindInternalError:           http.StatusInternalServerError,
}

// titleFor maps each taxonomy kind to its human-readable title.
var titleFor = map[Kind]string{
	KindAuthenticationFailed:    "Authentication Failed",
	KindInsufficientPermissions: "Insufficient Permissions",
	KindAgentNotFound:           "Agent Not Found",
	KindAgentRegistrationError:  "Agent Registration Error",
	KindAgentKeyInUse:           "Agent Key In Use",
	KindTokenValidationError:    "Token Validation Error",
	KindAgentUnreachable:        "Agent Unreachable",
	KindValidationError:         "Validation Error",
	KindRateLimitExceeded:       "Rate Limit Exceeded",
	KindPinRequired:             "PIN Required",
	KindConfigurationError:      "Configuration Error",
	KindInternalError:           "Internal Server Error",
}

// Details is the wire shape of a problem response.
type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// RetryAfter is populated only for rate-limit problems, in seconds.
	RetryAfter int `json:"retry_after,omitempty"`
}

// New builds a Details for the given kind. The detail string passes through
// the security sanitizer so user-controlled input never reaches a client
// unescaped.
func New(kind Kind, detail string) *Details {
	status, ok := statusFor[kind]
	if !ok {
		kind = KindInternalError
		status = http.StatusInternalServerError
	}
	return &Details{
		Type:   typeBase + string(kind),
		Title:  titleFor[kind],
		Status: status,
		Detail: sanitize.String(detail),
	}
}

// Status returns the HTTP status for a kind.
func Status(kind Kind) int {
	if s, ok := statusFor[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Abort writes a problem response and aborts the gin request chain.
func Abort(c *gin.Context, kind Kind, detail string) {
	d := New(kind, detail)
	d.Instance = c.Request.URL.Path
	c.Header("Content-Type", ContentType)
	c.AbortWithStatusJSON(d.Status, d)
}

// AbortRateLimited writes a 429 problem carrying the retry delay.
func AbortRateLimited(c *gin.Context, retryAfter int, detail string) {
	d := New(KindRateLimitExceeded, detail)
	d.Instance = c.Request.URL.Path
	if retryAfter < 1 {
		retryAfter = 1
	}
	d.RetryAfter = retryAfter
	c.Header("Content-Type", ContentType)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(d.Status, d)
}
