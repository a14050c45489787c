package payments

import (
	"context"
	"crypto"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

const (
	headerTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	headerTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	headerTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	headerCertURL          = "PAYPAL-CERT-URL"
	headerAuthAlgo         = "PAYPAL-AUTH-ALGO"

	maxCertBytes = 64 << 10
)

// PayPalVerifierConfig configures PayPalVerifier.
type PayPalVerifierConfig struct {
	WebhookID  string
	CertTTL    time.Duration
	HTTPClient *http.Client
	Cache      CertCache
}

// PayPalVerifier checks PayPal's certificate-based transmission signature.
type PayPalVerifier struct {
	webhookID string
	ttl       time.Duration
	client    *http.Client
	cache     CertCache
	logger    *logging.Logger
}

func NewPayPalVerifier(cfg PayPalVerifierConfig, logger *logging.Logger) *PayPalVerifier {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCertCache()
	}
	if cfg.CertTTL <= 0 {
		cfg.CertTTL = 24 * time.Hour
	}
	return &PayPalVerifier{
		webhookID: cfg.WebhookID,
		ttl:       cfg.CertTTL,
		client:    cfg.HTTPClient,
		cache:     cfg.Cache,
		logger:    logger,
	}
}

func (v *PayPalVerifier) Verify(r *http.Request, body []byte) (err error) {
	ctx, span := paymentsTracer.Start(r.Context(), "payments.paypal.verify")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	transmissionID := strings.TrimSpace(r.Header.Get(headerTransmissionID))
	transmissionTime := strings.TrimSpace(r.Header.Get(headerTransmissionTime))
	sigHeader := strings.TrimSpace(r.Header.Get(headerTransmissionSig))
	certURL := strings.TrimSpace(r.Header.Get(headerCertURL))
	algo := strings.TrimSpace(r.Header.Get(headerAuthAlgo))
	if transmissionID == "" || transmissionTime == "" || sigHeader == "" || certURL == "" || algo == "" {
		return ErrMissingSignature
	}
	span.SetAttributes(attribute.String("paypal.transmission_id", transmissionID))

	if err := validateCertURL(certURL); err != nil {
		return err
	}
	hash, err := hashForAlgo(algo)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigHeader)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}

	cert, err := v.certificate(ctx, certURL)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate key is not RSA", ErrInvalidSignature)
	}

	message := SignedMessage(transmissionID, transmissionTime, v.webhookID, body)
	h := hash.New()
	h.Write([]byte(message))
	if err := rsa.VerifyPKCS1v15(pub, hash, h.Sum(nil), sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// SignedMessage is the string PayPal signs: id|time|webhookId|crc32(body).
func SignedMessage(transmissionID, transmissionTime, webhookID string, body []byte) string {
	return fmt.Sprintf("%s|%s|%s|%d", transmissionID, transmissionTime, webhookID, crc32.ChecksumIEEE(body))
}

func validateCertURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed cert url", ErrInvalidSignature)
	}
	host := strings.ToLower(u.Hostname())
	if u.Scheme != "https" || (host != "paypal.com" && !strings.HasSuffix(host, ".paypal.com")) {
		return fmt.Errorf("%w: cert url %q is not a paypal.com https url", ErrInvalidSignature, raw)
	}
	return nil
}

func hashForAlgo(algo string) (crypto.Hash, error) {
	upper := strings.ToUpper(algo)
	switch {
	case strings.Contains(upper, "SHA256"):
		return crypto.SHA256, nil
	case strings.Contains(upper, "SHA1"):
		return crypto.SHA1, nil
	default:
		return 0, fmt.Errorf("%w: unsupported auth algo %q", ErrInvalidSignature, algo)
	}
}

func (v *PayPalVerifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	if data, ok, err := v.cache.Get(ctx, certURL); err != nil {
		v.logger.Warn("paypal cert cache read failed", "error", err)
	} else if ok {
		if cert, err := parseCertificate(data); err == nil {
			return cert, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, fmt.Errorf("payments: build cert request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: fetch paypal cert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payments: fetch paypal cert: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
	if err != nil {
		return nil, fmt.Errorf("payments: read paypal cert: %w", err)
	}
	cert, err := parseCertificate(data)
	if err != nil {
		return nil, err
	}
	if time.Now().After(cert.NotAfter) {
		return nil, fmt.Errorf("%w: signing certificate expired", ErrInvalidSignature)
	}
	if err := v.cache.Set(ctx, certURL, data, v.ttl); err != nil {
		v.logger.Warn("paypal cert cache write failed", "error", err)
	}
	return cert, nil
}

func parseCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: certificate is not PEM", ErrInvalidSignature)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate: %v", ErrInvalidSignature, err)
	}
	return cert, nil
}
