package account

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/donkynetwork/donky-core-go/pkg/observability"
)

// tokenServer answers the token endpoint with a fixed response.
func tokenServer(t *testing.T, status int, resp tokenResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != authenticatePath {
			t.Errorf("path = %s, want %s", r.URL.Path, authenticatePath)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode token request: %v", err)
		}
		if req["deviceId"] != "device-1" || req["apiKey"] != "key-1" {
			t.Errorf("credentials = %v, want device-1/key-1", req)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenGate_Lifecycle(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, tokenResponse{
		AccessToken: "tok-1",
		ExpiresOn:   time.Now().Add(24 * time.Hour),
	})
	g := NewTokenGate(srv.URL, "key-1", "device-1", srv.Client(), observability.NopLogger())

	if !g.IsInitialized() {
		t.Fatal("gate with api key and device id reports uninitialized")
	}
	if g.IsRegistered() {
		t.Fatal("gate registered before any authentication")
	}

	if err := g.Authenticate(t.Context()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !g.IsRegistered() {
		t.Error("gate not registered after authentication")
	}
	if g.IsSuspended() {
		t.Error("gate suspended after a fresh token")
	}
	if got := g.AuthToken(); got != "tok-1" {
		t.Errorf("AuthToken = %q, want tok-1", got)
	}
}

func TestTokenGate_IsInitialized(t *testing.T) {
	g := NewTokenGate("http://localhost", "", "device-1", nil, observability.NopLogger())
	if g.IsInitialized() {
		t.Error("gate without api key reports initialized")
	}
	g = NewTokenGate("http://localhost", "key-1", "", nil, observability.NopLogger())
	if g.IsInitialized() {
		t.Error("gate without device id reports initialized")
	}
}

func TestTokenGate_MarkSuspendedClearedByAuthenticate(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, tokenResponse{
		AccessToken: "tok-2",
		ExpiresOn:   time.Now().Add(time.Hour),
	})
	g := NewTokenGate(srv.URL, "key-1", "device-1", srv.Client(), observability.NopLogger())

	g.MarkSuspended()
	if !g.IsSuspended() {
		t.Fatal("MarkSuspended did not suspend the gate")
	}
	if err := g.Authenticate(t.Context()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if g.IsSuspended() {
		t.Error("suspension survived a successful authentication")
	}
}

func TestTokenGate_ExpiredTokenSuspends(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, tokenResponse{
		AccessToken: "tok-3",
		ExpiresOn:   time.Now().Add(-time.Minute),
	})
	g := NewTokenGate(srv.URL, "key-1", "device-1", srv.Client(), observability.NopLogger())

	if err := g.Authenticate(t.Context()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !g.IsSuspended() {
		t.Error("expired token not reported as suspended")
	}
}

func TestTokenGate_ExpClaimWinsOverEnvelope(t *testing.T) {
	// A real JWT whose exp claim is in the future, wrapped in an envelope
	// claiming the token already expired. The claim is authoritative.
	claimExp := time.Now().Add(2 * time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "device-1",
		"exp": claimExp.Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	srv := tokenServer(t, http.StatusOK, tokenResponse{
		AccessToken: token,
		ExpiresOn:   time.Now().Add(-time.Hour),
	})
	g := NewTokenGate(srv.URL, "key-1", "device-1", srv.Client(), observability.NopLogger())

	if err := g.Authenticate(t.Context()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if g.IsSuspended() {
		t.Error("gate suspended although the token's exp claim is in the future")
	}
}

func TestTokenGate_AuthenticateErrors(t *testing.T) {
	t.Run("server rejection", func(t *testing.T) {
		srv := tokenServer(t, http.StatusUnauthorized, tokenResponse{})
		g := NewTokenGate(srv.URL, "key-1", "device-1", srv.Client(), observability.NopLogger())
		if err := g.Authenticate(t.Context()); err == nil {
			t.Fatal("Authenticate succeeded on a 401")
		}
		if g.IsRegistered() {
			t.Error("gate registered after a rejected authentication")
		}
	})
	t.Run("empty token", func(t *testing.T) {
		srv := tokenServer(t, http.StatusOK, tokenResponse{})
		g := NewTokenGate(srv.URL, "key-1", "device-1", srv.Client(), observability.NopLogger())
		if err := g.Authenticate(t.Context()); err == nil {
			t.Fatal("Authenticate accepted an empty token")
		}
	})
}
