package payments

import (
	"bytes"
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testCertURL = "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-360caa42"

func signMaya(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func mayaRequest(body []byte, remote, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/maya", bytes.NewReader(body))
	req.RemoteAddr = remote + ":443"
	if sig != "" {
		req.Header.Set(mayaSignatureHeader, sig)
	}
	return req
}

func TestMayaVerifier(t *testing.T) {
	body := []byte(`{"id":"pay-1","status":"PAYMENT_SUCCESS"}`)
	mac := signMaya("shh", body)

	cases := []struct {
		name    string
		cfg     MayaVerifierConfig
		remote  string
		sig     string
		wantErr error
	}{
		{"hex signature", MayaVerifierConfig{Secret: "shh"}, "10.0.0.1", hex.EncodeToString(mac), nil},
		{"base64 signature", MayaVerifierConfig{Secret: "shh"}, "10.0.0.1", base64.StdEncoding.EncodeToString(mac), nil},
		{"prefixed signature", MayaVerifierConfig{Secret: "shh"}, "10.0.0.1", "sha256=" + hex.EncodeToString(mac), nil},
		{"missing signature", MayaVerifierConfig{Secret: "shh"}, "10.0.0.1", "", ErrMissingSignature},
		{"wrong secret", MayaVerifierConfig{Secret: "other"}, "10.0.0.1", hex.EncodeToString(mac), ErrInvalidSignature},
		{"garbage signature", MayaVerifierConfig{Secret: "shh"}, "10.0.0.1", "not-a-signature", ErrInvalidSignature},
		{"untrusted source enforced", MayaVerifierConfig{Secret: "shh", AllowedIPs: []string{"13.229.160.234"}, EnforceSource: true}, "10.0.0.1", hex.EncodeToString(mac), ErrUntrustedSource},
		{"untrusted source logged only", MayaVerifierConfig{Secret: "shh", AllowedIPs: []string{"13.229.160.234"}}, "10.0.0.1", hex.EncodeToString(mac), nil},
		{"allow-listed source", MayaVerifierConfig{Secret: "shh", AllowedIPs: []string{"13.229.160.234"}, EnforceSource: true}, "13.229.160.234", hex.EncodeToString(mac), nil},
		{"cidr allow-list", MayaVerifierConfig{Secret: "shh", AllowedIPs: []string{"3.1.0.0/16"}, EnforceSource: true}, "3.1.199.75", hex.EncodeToString(mac), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewMayaVerifier(tc.cfg, nil)
			err := v.Verify(mayaRequest(body, tc.remote, tc.sig), body)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestMayaVerifierRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"id":"pay-1","status":"PAYMENT_SUCCESS"}`)
	sig := hex.EncodeToString(signMaya("shh", body))
	tampered := []byte(`{"id":"pay-1","status":"PAYMENT_FAILED"}`)

	v := NewMayaVerifier(MayaVerifierConfig{Secret: "shh"}, nil)
	if err := v.Verify(mayaRequest(tampered, "10.0.0.1", sig), tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestVerificationStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrMissingSignature, http.StatusBadRequest},
		{ErrInvalidSignature, http.StatusUnauthorized},
		{ErrUntrustedSource, http.StatusForbidden},
		{errors.New("cert fetch failed"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := VerificationStatus(tc.err); got != tc.want {
			t.Errorf("VerificationStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

type paypalSigner struct {
	key     *rsa.PrivateKey
	certPEM []byte
}

func newPayPalSigner(t *testing.T) *paypalSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "messageverificationcerts.paypal.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	return &paypalSigner{
		key:     key,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func (s *paypalSigner) sign(t *testing.T, hash crypto.Hash, message string) string {
	t.Helper()
	var digest []byte
	switch hash {
	case crypto.SHA1:
		sum := sha1.Sum([]byte(message))
		digest = sum[:]
	default:
		sum := sha256.Sum256([]byte(message))
		digest = sum[:]
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, hash, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func (s *paypalSigner) request(t *testing.T, webhookID string, body []byte, algo string, hash crypto.Hash) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(body))
	req.Header.Set(headerTransmissionID, "b2384410-f8d2-11ee-8e13-e5c4b7b1a6e4")
	req.Header.Set(headerTransmissionTime, "2025-04-11T07:20:41Z")
	req.Header.Set(headerCertURL, testCertURL)
	req.Header.Set(headerAuthAlgo, algo)
	msg := SignedMessage("b2384410-f8d2-11ee-8e13-e5c4b7b1a6e4", "2025-04-11T07:20:41Z", webhookID, body)
	req.Header.Set(headerTransmissionSig, s.sign(t, hash, msg))
	return req
}

func seededVerifier(t *testing.T, signer *paypalSigner, webhookID string) *PayPalVerifier {
	t.Helper()
	cache := NewMemoryCertCache()
	if err := cache.Set(context.Background(), testCertURL, signer.certPEM, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	return NewPayPalVerifier(PayPalVerifierConfig{WebhookID: webhookID, Cache: cache}, nil)
}

func TestPayPalVerifierValidSignature(t *testing.T) {
	signer := newPayPalSigner(t)
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)
	v := seededVerifier(t, signer, "WEBHOOK-1")

	if err := v.Verify(signer.request(t, "WEBHOOK-1", body, "SHA256withRSA", crypto.SHA256), body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := v.Verify(signer.request(t, "WEBHOOK-1", body, "SHA1withRSA", crypto.SHA1), body); err != nil {
		t.Fatalf("expected valid SHA1 signature, got %v", err)
	}
}

func TestPayPalVerifierRejects(t *testing.T) {
	signer := newPayPalSigner(t)
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	t.Run("tampered body", func(t *testing.T) {
		v := seededVerifier(t, signer, "WEBHOOK-1")
		req := signer.request(t, "WEBHOOK-1", body, "SHA256withRSA", crypto.SHA256)
		if err := v.Verify(req, []byte(`{"id":"WH-2"}`)); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})

	t.Run("other webhook id", func(t *testing.T) {
		v := seededVerifier(t, signer, "WEBHOOK-2")
		req := signer.request(t, "WEBHOOK-1", body, "SHA256withRSA", crypto.SHA256)
		if err := v.Verify(req, body); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		v := seededVerifier(t, signer, "WEBHOOK-1")
		req := signer.request(t, "WEBHOOK-1", body, "SHA256withRSA", crypto.SHA256)
		req.Header.Del(headerTransmissionSig)
		if err := v.Verify(req, body); !errors.Is(err, ErrMissingSignature) {
			t.Fatalf("expected missing signature, got %v", err)
		}
	})

	t.Run("foreign cert url", func(t *testing.T) {
		v := seededVerifier(t, signer, "WEBHOOK-1")
		req := signer.request(t, "WEBHOOK-1", body, "SHA256withRSA", crypto.SHA256)
		req.Header.Set(headerCertURL, "https://paypal.com.evil.example/cert.pem")
		if err := v.Verify(req, body); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})

	t.Run("plain http cert url", func(t *testing.T) {
		v := seededVerifier(t, signer, "WEBHOOK-1")
		req := signer.request(t, "WEBHOOK-1", body, "SHA256withRSA", crypto.SHA256)
		req.Header.Set(headerCertURL, "http://api.paypal.com/cert.pem")
		if err := v.Verify(req, body); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})

	t.Run("unsupported algo", func(t *testing.T) {
		v := seededVerifier(t, signer, "WEBHOOK-1")
		req := signer.request(t, "WEBHOOK-1", body, "MD5withRSA", crypto.SHA256)
		if err := v.Verify(req, body); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected invalid signature, got %v", err)
		}
	})
}

type rewriteTransport struct {
	target string
	hits   atomic.Int32
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.hits.Add(1)
	clone := req.Clone(req.Context())
	u := *req.URL
	u.Scheme = "http"
	u.Host = strings.TrimPrefix(rt.target, "http://")
	clone.URL = &u
	clone.Host = u.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func TestPayPalVerifierFetchesAndCachesCert(t *testing.T) {
	signer := newPayPalSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, bytes.NewReader(signer.certPEM))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	transport := &rewriteTransport{target: srv.URL}
	v := NewPayPalVerifier(PayPalVerifierConfig{
		WebhookID:  "WEBHOOK-1",
		CertTTL:    time.Hour,
		HTTPClient: &http.Client{Transport: transport, Timeout: 5 * time.Second},
		Cache:      NewRedisCertCache(rdb),
	}, nil)

	body := []byte(`{"id":"WH-1"}`)
	for i := 0; i < 2; i++ {
		if err := v.Verify(signer.request(t, "WEBHOOK-1", body, "SHA256withRSA", crypto.SHA256), body); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
	if got := transport.hits.Load(); got != 1 {
		t.Fatalf("expected one cert fetch, got %d", got)
	}
	if !mr.Exists(certCachePrefix + testCertURL) {
		t.Fatal("expected cert in redis")
	}
	if ttl := mr.TTL(certCachePrefix + testCertURL); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}
}

func TestMemoryCertCacheExpires(t *testing.T) {
	cache := NewMemoryCertCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cache.Set(ctx, "u", []byte("pem"), time.Minute)
	if _, ok, _ := cache.Get(ctx, "u"); !ok {
		t.Fatal("expected cached cert")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "u"); ok {
		t.Fatal("expected expiry")
	}
}

func TestRedisCertCacheMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	data, ok, err := NewRedisCertCache(rdb).Get(context.Background(), "https://api.paypal.com/missing")
	if err != nil || ok || data != nil {
		t.Fatalf("expected clean miss, got %q %v %v", data, ok, err)
	}
}
