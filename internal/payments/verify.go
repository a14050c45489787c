package payments

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
)

var paymentsTracer = otel.Tracer("marketplace.internal.payments")

var (
	// ErrMissingSignature means required signature headers were absent.
	ErrMissingSignature = errors.New("payments: missing webhook signature")
	// ErrInvalidSignature means the signature did not verify.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrUntrustedSource means the request came from an address outside the allow-list.
	ErrUntrustedSource = errors.New("payments: untrusted webhook source")
)

// Verifier authenticates a raw webhook delivery.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// VerificationStatus maps a verification error to the HTTP status returned to
// the provider.
func VerificationStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUntrustedSource):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func verificationReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUntrustedSource):
		return "untrusted_source"
	default:
		return "verify_error"
	}
}

// clientIP returns the request's remote address without the port. chi's
// RealIP middleware has already rewritten RemoteAddr from forwarding headers.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
