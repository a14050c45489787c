package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

const mayaSignatureHeader = "X-Maya-Signature"

// MayaVerifierConfig configures MayaVerifier.
type MayaVerifierConfig struct {
	Secret     string
	AllowedIPs []string
	// EnforceSource rejects requests from addresses outside AllowedIPs.
	// When false a mismatch is only logged.
	EnforceSource bool
}

// MayaVerifier checks the HMAC-SHA256 body signature and the source address.
type MayaVerifier struct {
	secret  []byte
	allowed map[string]struct{}
	nets    []*net.IPNet
	enforce bool
	logger  *logging.Logger
}

func NewMayaVerifier(cfg MayaVerifierConfig, logger *logging.Logger) *MayaVerifier {
	if logger == nil {
		logger = logging.Default()
	}
	v := &MayaVerifier{
		secret:  []byte(cfg.Secret),
		allowed: make(map[string]struct{}),
		enforce: cfg.EnforceSource,
		logger:  logger,
	}
	for _, entry := range cfg.AllowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			v.nets = append(v.nets, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			v.allowed[ip.String()] = struct{}{}
		}
	}
	return v
}

func (v *MayaVerifier) Verify(r *http.Request, body []byte) error {
	_, span := paymentsTracer.Start(r.Context(), "payments.maya.verify")
	defer span.End()

	ip := clientIP(r)
	span.SetAttributes(attribute.String("net.peer.ip", ip))
	if !v.trusted(ip) {
		if v.enforce {
			return fmt.Errorf("%w: %s", ErrUntrustedSource, ip)
		}
		v.logger.Warn("maya webhook from address outside allow-list", "remote_ip", ip)
	}

	header := strings.TrimSpace(r.Header.Get(mayaSignatureHeader))
	if header == "" {
		return ErrMissingSignature
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}
	provided, ok := decodeSignature(header)
	if !ok {
		return fmt.Errorf("%w: undecodable signature", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *MayaVerifier) trusted(ip string) bool {
	if len(v.allowed) == 0 && len(v.nets) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if _, ok := v.allowed[parsed.String()]; ok {
		return true
	}
	for _, n := range v.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// decodeSignature accepts hex or standard base64, optionally prefixed with "sha256=".
func decodeSignature(sig string) ([]byte, bool) {
	sig = strings.TrimPrefix(sig, "sha256=")
	if len(sig) == sha256.Size*2 {
		if b, err := hex.DecodeString(sig); err == nil {
			return b, true
		}
	}
	if b, err := base64.StdEncoding.DecodeString(sig); err == nil && len(b) == sha256.Size {
		return b, true
	}
	return nil, false
}
