package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atinyakov/syncmanager/internal/models"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(fn roundTripperFunc) *http.Client {
	return &http.Client{Transport: fn, Timeout: time.Second}
}

func testRequest(t *testing.T) SyncRequest {
	t.Helper()
	cfg, err := models.NewSyncConfiguration(
		models.Identity{ID: "user-1", RefreshToken: "tok"},
		"realm://objectserver.realm.io/default",
	)
	if err != nil {
		t.Fatal(err)
	}
	return SyncRequest{SessionID: "s-1", Config: cfg, LastKnownVersion: 3}
}

func TestSync_NetworkError(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("network down")
	})
	_, err := NewHTTP(client, "http://example.com").Sync(context.Background(), testRequest(t))
	if err == nil || !strings.Contains(err.Error(), "sync failed") {
		t.Errorf("expected network failure, got %v", err)
	}
}

func TestSync_ServerError(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader("internal error\n")),
		}, nil
	})
	_, err := NewHTTP(client, "http://example.com").Sync(context.Background(), testRequest(t))
	if err == nil || !strings.Contains(err.Error(), "server error: internal error") {
		t.Errorf("expected server error, got %v", err)
	}
}

func TestSync_InvalidJSON(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("not-json")),
		}, nil
	})
	_, err := NewHTTP(client, "http://example.com").Sync(context.Background(), testRequest(t))
	if err == nil || !strings.Contains(err.Error(), "invalid response") {
		t.Errorf("expected JSON decode error, got %v", err)
	}
}

func TestSync_Success(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "http://example.com/api/sync" {
			t.Errorf("unexpected URL: %s", req.URL)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q; want %q", got, "Bearer tok")
		}
		var payload syncPayload
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request failed: %v", err)
		}
		if payload.UserID != "user-1" || payload.SessionID != "s-1" || payload.LastKnownVersion != 3 {
			t.Errorf("unexpected request payload: %+v", payload)
		}
		if payload.Path != "realm://objectserver.realm.io/default" {
			t.Errorf("path = %q", payload.Path)
		}

		respBody, _ := json.Marshal(map[string]any{"version": 42})
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(respBody)),
		}, nil
	})

	res, err := NewHTTP(client, "http://example.com/").Sync(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Version != 42 {
		t.Errorf("version = %d; want 42", res.Version)
	}
}

func TestConnect_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiHealth {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := NewHTTP(ts.Client(), ts.URL).Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestConnect_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := NewHTTP(ts.Client(), ts.URL, WithConnectTries(3)).Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d; want 2", hits.Load())
	}
}

func TestConnect_PermanentFailure(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	err := NewHTTP(ts.Client(), ts.URL, WithConnectTries(5)).Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "server answered 401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried, hits = %d", hits.Load())
	}
}

func TestNop(t *testing.T) {
	var tr Transport = Nop{}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := tr.Sync(context.Background(), SyncRequest{LastKnownVersion: 9})
	if err != nil || res.Version != 9 {
		t.Fatalf("Sync = %+v, %v", res, err)
	}
}

// generateCACert returns a self-signed CA cert and key.
func generateCACert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func TestLoadClientCertificate(t *testing.T) {
	certPEM, keyPEM := generateCACert(t)

	tmp := t.TempDir()
	certPath := filepath.Join(tmp, "client.crt")
	keyPath := filepath.Join(tmp, "client.key")
	caPath := filepath.Join(tmp, "ca.pem")
	for path, data := range map[string][]byte{certPath: certPEM, keyPath: keyPEM, caPath: certPEM} {
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	client, err := LoadClientCertificate(certPath, keyPath, caPath)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tcfg := client.Transport.(*http.Transport).TLSClientConfig
	if len(tcfg.Certificates) != 1 {
		t.Errorf("expected 1 client certificate, got %d", len(tcfg.Certificates))
	}
}

func TestLoadClientCertificate_BadCA(t *testing.T) {
	certPEM, keyPEM := generateCACert(t)

	tmp := t.TempDir()
	certPath := filepath.Join(tmp, "client.crt")
	keyPath := filepath.Join(tmp, "client.key")
	caPath := filepath.Join(tmp, "ca.pem")
	_ = os.WriteFile(certPath, certPEM, 0600)
	_ = os.WriteFile(keyPath, keyPEM, 0600)
	_ = os.WriteFile(caPath, []byte("invalid pem"), 0600)

	_, err := LoadClientCertificate(certPath, keyPath, caPath)
	if err == nil || !strings.Contains(err.Error(), "failed to parse CA cert") {
		t.Errorf("expected parse CA error, got %v", err)
	}

	_, err = LoadClientCertificate(certPath, keyPath, filepath.Join(tmp, "missing.pem"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected file not exist error, got %v", err)
	}
}
