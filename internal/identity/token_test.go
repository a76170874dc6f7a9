package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/agentvault/registry/internal/identity"
)

func testKey(t *testing.T) *identity.KeyManager {
	t.Helper()
	km := identity.NewKeyManager(t.TempDir())
	if err := km.LoadOrCreate(); err != nil {
		t.Fatalf("load or create signing key: %v", err)
	}
	return km
}

func newTestTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	km := testKey(t)
	return identity.NewTokenIssuer(km.Key(), "https://registry.agentvault.dev", time.Hour)
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("did:cos:agent-abc", []string{"agent:resolve", "agent:call"})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t)
	agentDID := "did:cos:agent-xyz"
	scopes := []string{"agent:resolve"}

	token, err := ti.Issue(agentDID, scopes)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	if claims.AgentDID != agentDID {
		t.Errorf("AgentDID: got %q, want %q", claims.AgentDID, agentDID)
	}
	if claims.Subject != agentDID {
		t.Errorf("Subject: got %q, want %q", claims.Subject, agentDID)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "agent:resolve" {
		t.Errorf("Scopes: got %v, want [agent:resolve]", claims.Scopes)
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	km := testKey(t)
	// Issue a token with a 1-nanosecond TTL — it will be expired by the time we verify.
	ti := identity.NewTokenIssuer(km.Key(), "https://registry.agentvault.dev", time.Nanosecond)

	token, err := ti.Issue("did:cos:agent-x", nil)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Millisecond)

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestTokenIssuer_Verify_tamperedSignature(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("did:cos:agent-x", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a mid-signature character to corrupt the decoded bytes.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'a' {
		sig[mid] = 'b'
	} else {
		sig[mid] = 'a'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := ti.Verify(tampered); err == nil {
		t.Error("expected error for tampered token, got nil")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	km := testKey(t)
	ti1 := identity.NewTokenIssuer(km.Key(), "https://registry-a.agentvault.dev", time.Hour)
	ti2 := identity.NewTokenIssuer(km.Key(), "https://registry-b.agentvault.dev", time.Hour)

	token, err := ti1.Issue("did:cos:agent-x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti2.Verify(token); err == nil {
		t.Error("expected error for wrong issuer, got nil")
	}
}

func TestTokenIssuer_PublicKeyPEM(t *testing.T) {
	ti := newTestTokenIssuer(t)
	pemStr, err := ti.PublicKeyPEM()
	if err != nil {
		t.Fatalf("PublicKeyPEM() error: %v", err)
	}
	if !strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----") {
		t.Errorf("unexpected PEM header: %q", pemStr[:26])
	}
}

func TestHasScope(t *testing.T) {
	ti := newTestTokenIssuer(t)
	token, err := ti.Issue("did:cos:agent-x", []string{"agent:resolve", "agent:call"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatal(err)
	}

	if !identity.HasScope(claims, "agent:resolve") {
		t.Error("HasScope(agent:resolve) should be true")
	}
	if identity.HasScope(claims, "agent:admin") {
		t.Error("HasScope(agent:admin) should be false")
	}
	if identity.HasScope(nil, "agent:resolve") {
		t.Error("HasScope(nil, ...) should be false")
	}
}
