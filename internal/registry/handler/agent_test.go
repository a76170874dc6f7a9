package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/agentvault/registry/internal/identity"
	"github.com/agentvault/registry/internal/registry/handler"
	"github.com/agentvault/registry/internal/registry/model"
	"github.com/agentvault/registry/internal/registry/repository"
	"github.com/agentvault/registry/internal/registry/service"
	"github.com/agentvault/registry/internal/trustledger"
	"go.uber.org/zap"
)

// ── stub repo (mirrors internal/registry/service's agentRepo interface) ──────

type stubAgentRepo struct {
	byID                 map[uuid.UUID]*model.Agent
	byDID                map[string]*model.Agent
	bootstrapTokens      map[string]*model.BootstrapToken
	bootstrapOwner       map[string]uuid.UUID
	recentBootstrapCount int
}

func newStubAgentRepo() *stubAgentRepo {
	return &stubAgentRepo{
		byID:            make(map[uuid.UUID]*model.Agent),
		byDID:           make(map[string]*model.Agent),
		bootstrapTokens: make(map[string]*model.BootstrapToken),
		bootstrapOwner:  make(map[string]uuid.UUID),
	}
}

func (s *stubAgentRepo) Create(_ context.Context, agent *model.Agent) error {
	agent.ID = uuid.New()
	s.byID[agent.ID] = agent
	s.byDID[agent.DID] = agent
	return nil
}

func (s *stubAgentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Agent, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (s *stubAgentRepo) GetByDID(_ context.Context, did string) (*model.Agent, error) {
	a, ok := s.byDID[did]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (s *stubAgentRepo) List(_ context.Context, filter model.ListAgentsFilter) ([]*model.Agent, error) {
	var out []*model.Agent
	for _, a := range s.byID {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *stubAgentRepo) ListByDeveloperID(_ context.Context, developerID uuid.UUID, _, _ int) ([]*model.Agent, error) {
	var out []*model.Agent
	for _, a := range s.byID {
		if a.DeveloperID == developerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubAgentRepo) SearchByCapability(_ context.Context, capability string, _, _ int) ([]*model.Agent, error) {
	var out []*model.Agent
	for _, a := range s.byID {
		if a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubAgentRepo) CountByDeveloper(_ context.Context, developerID uuid.UUID) (int, error) {
	n := 0
	for _, a := range s.byID {
		if a.DeveloperID == developerID {
			n++
		}
	}
	return n, nil
}

func (s *stubAgentRepo) Update(_ context.Context, agent *model.Agent) error {
	if _, ok := s.byID[agent.ID]; !ok {
		return repository.ErrNotFound
	}
	s.byID[agent.ID] = agent
	s.byDID[agent.DID] = agent
	return nil
}

func (s *stubAgentRepo) Delete(_ context.Context, id uuid.UUID) error {
	a, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byDID, a.DID)
	return nil
}

func (s *stubAgentRepo) CreateBootstrapToken(_ context.Context, creatorDeveloperID uuid.UUID, tokenValue string, expiresAt time.Time) (*model.BootstrapToken, error) {
	tok := &model.BootstrapToken{TokenID: uuid.New(), CreatorDeveloperID: creatorDeveloperID, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	s.bootstrapTokens[tokenValue] = tok
	s.bootstrapOwner[tokenValue] = creatorDeveloperID
	return tok, nil
}

func (s *stubAgentRepo) CountRecentBootstrapTokens(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return s.recentBootstrapCount, nil
}

func (s *stubAgentRepo) RedeemBootstrapToken(_ context.Context, tokenValue string, agent *model.Agent) (*model.Agent, error) {
	tok, ok := s.bootstrapTokens[tokenValue]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if tok.Consumed() {
		return nil, repository.ErrTokenConsumed
	}
	if tok.Expired(time.Now()) {
		return nil, repository.ErrTokenExpired
	}
	now := time.Now()
	tok.ConsumedAt = &now
	agent.ID = uuid.New()
	agent.DeveloperID = s.bootstrapOwner[tokenValue]
	tok.ConsumedByAgentID = &agent.ID
	s.byID[agent.ID] = agent
	s.byDID[agent.DID] = agent
	return agent, nil
}

func (s *stubAgentRepo) CreateAPIKey(_ context.Context, key *model.APIKey) error { return nil }
func (s *stubAgentRepo) GetAPIKeyByPrefix(_ context.Context, prefix string) (*model.APIKey, error) {
	return nil, repository.ErrNotFound
}
func (s *stubAgentRepo) RevokeAPIKey(_ context.Context, keyID uuid.UUID) error { return nil }

// ── test setup ────────────────────────────────────────────────────────────

func testUserTokens(t *testing.T) *identity.UserTokenIssuer {
	t.Helper()
	km := identity.NewKeyManager(t.TempDir())
	if err := km.LoadOrCreate(); err != nil {
		t.Fatalf("load or create signing key: %v", err)
	}
	return identity.NewUserTokenIssuer(km.Key(), "http://test", time.Hour)
}

func setupAgentRouter(t *testing.T) (*gin.Engine, *stubAgentRepo, *identity.UserTokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newStubAgentRepo()
	userTokens := testUserTokens(t)
	svc := service.NewAgentService(repo, nil, trustledger.New(), zap.NewNop())
	h := handler.NewAgentHandler(svc, userTokens, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r, repo, userTokens
}

func authedRequest(t *testing.T, tokens *identity.UserTokenIssuer, userID, role, method, url string, body []byte) *http.Request {
	t.Helper()
	token, err := tokens.Issue(userID, userID+"@example.com", "dev", role)
	if err != nil {
		t.Fatalf("issue user token: %v", err)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestCreateAgent_201(t *testing.T) {
	router, _, tokens := setupAgentRouter(t)
	devID := uuid.New().String()

	body := []byte(`{"name":"Test Agent","endpoints":["https://agent.example.com"],"capabilities":["demo"],"auth_schemes":[{"scheme":"bearer"}]}`)
	req := authedRequest(t, tokens, devID, "developer", http.MethodPost, "/api/v1/agents", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var agent model.Agent
	if err := json.Unmarshal(w.Body.Bytes(), &agent); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if agent.DID == "" {
		t.Error("expected a DID in the response")
	}
}

func TestCreateAgent_400_invalidCard(t *testing.T) {
	router, _, tokens := setupAgentRouter(t)
	devID := uuid.New().String()

	body := []byte(`{"name":"No endpoints","auth_schemes":[{"scheme":"bearer"}]}`)
	req := authedRequest(t, tokens, devID, "developer", http.MethodPost, "/api/v1/agents", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAgent_401_noToken(t *testing.T) {
	router, _, _ := setupAgentRouter(t)

	body := []byte(`{"name":"Test Agent"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGetAgent_404(t *testing.T) {
	router, _, tokens := setupAgentRouter(t)
	devID := uuid.New().String()

	req := authedRequest(t, tokens, devID, "developer", http.MethodGet, "/api/v1/agents/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateAgent_403_notOwner(t *testing.T) {
	router, repo, tokens := setupAgentRouter(t)
	ownerID := uuid.New()
	agent := &model.Agent{
		DID: "did:cos:owned-agent", Name: "Owned", DeveloperID: ownerID,
		Status: model.AgentStatusActive, Endpoints: []string{"https://a.example.com"},
		AuthSchemes: []model.AuthScheme{{Scheme: model.AuthSchemeBearer}},
	}
	_ = repo.Create(context.Background(), agent)

	body := []byte(`{"name":"Hijacked"}`)
	req := authedRequest(t, tokens, uuid.NewString(), "developer", http.MethodPut, "/api/v1/agents/"+agent.ID.String(), body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeleteAgent_204_ownerSucceeds(t *testing.T) {
	router, repo, tokens := setupAgentRouter(t)
	ownerID := uuid.New()
	agent := &model.Agent{
		DID: "did:cos:owned-agent-2", Name: "Owned", DeveloperID: ownerID,
		Status: model.AgentStatusActive, Endpoints: []string{"https://a.example.com"},
		AuthSchemes: []model.AuthScheme{{Scheme: model.AuthSchemeBearer}},
	}
	_ = repo.Create(context.Background(), agent)

	req := authedRequest(t, tokens, ownerID.String(), "developer", http.MethodDelete, "/api/v1/agents/"+agent.ID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestBootstrapToken_201(t *testing.T) {
	router, _, tokens := setupAgentRouter(t)
	devID := uuid.New().String()

	req := authedRequest(t, tokens, devID, "developer", http.MethodPost, "/api/v1/onboard/bootstrap/request-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token_value"] == nil {
		t.Error("expected token_value in response")
	}
}

func TestRedeemBootstrapToken_201(t *testing.T) {
	router, repo, tokens := setupAgentRouter(t)
	devID := uuid.New().String()

	reqTok := authedRequest(t, tokens, devID, "developer", http.MethodPost, "/api/v1/onboard/bootstrap/request-token", nil)
	wTok := httptest.NewRecorder()
	router.ServeHTTP(wTok, reqTok)
	var tokResp map[string]any
	json.Unmarshal(wTok.Body.Bytes(), &tokResp)
	tokenValue := tokResp["token_value"].(string)
	_ = repo

	body := []byte(`{"agent_name":"Bootstrapped","endpoints":["https://new.example.com"],"capabilities":["demo"],"auth_schemes":[{"scheme":"bearer"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/onboard/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bootstrap-Token", tokenValue)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRedeemBootstrapToken_401_missingHeader(t *testing.T) {
	router, _, _ := setupAgentRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/onboard/register", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRedeemBootstrapToken_404_unknownToken(t *testing.T) {
	router, _, _ := setupAgentRouter(t)

	body := []byte(`{"agent_name":"X","endpoints":["https://x.example.com"],"auth_schemes":[{"scheme":"bearer"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/onboard/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bootstrap-Token", "bst_doesnotexist")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDiscoverAgents_200(t *testing.T) {
	router, repo, tokens := setupAgentRouter(t)
	devID := uuid.New().String()

	agent := &model.Agent{
		DID: "did:cos:discoverable", Name: "Discoverable", DeveloperID: uuid.New(),
		Status: model.AgentStatusActive, Capabilities: []string{"search"},
		Endpoints:   []string{"https://d.example.com"},
		AuthSchemes: []model.AuthScheme{{Scheme: model.AuthSchemeBearer}},
	}
	_ = repo.Create(context.Background(), agent)

	req := authedRequest(t, tokens, devID, "developer", http.MethodGet, "/api/v1/discovery/agents?capability=search", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	agents, _ := resp["agents"].([]any)
	if len(agents) != 1 {
		t.Errorf("expected 1 discovered agent, got %d", len(agents))
	}
}
