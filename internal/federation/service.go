package federation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FederationServiceConfig controls fan-out timeouts and cache lifetime.
type FederationServiceConfig struct {
	QueryTimeout time.Duration
	CacheTTL     time.Duration
}

func (c FederationServiceConfig) withDefaults() FederationServiceConfig {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 300 * time.Second
	}
	return c
}

// FederationService manages peer registrations and runs federated searches.
type FederationService struct {
	repo   federationRepo
	cipher *peerKeyCipher
	cache  *searchCache
	client *peerClient
	cfg    FederationServiceConfig
	logger *zap.Logger
}

// NewFederationService creates a FederationService. encryptionKey must be
// exactly 32 bytes (AES-256); cmd/registry passes the raw bytes of its
// federation.encryption_key setting.
func NewFederationService(repo federationRepo, encryptionKey []byte, cfg FederationServiceConfig, logger *zap.Logger) (*FederationService, error) {
	cipher, err := newPeerKeyCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &FederationService{
		repo:   repo,
		cipher: cipher,
		cache:  newSearchCache(cfg.CacheTTL),
		client: newPeerClient(cfg.QueryTimeout),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// AddPeer registers a new federation peer, encrypting its API key at rest.
func (s *FederationService) AddPeer(ctx context.Context, req *CreatePeerRequest) (*FederationPeer, error) {
	if req.Name == "" || req.RegistryURL == "" || req.APIKey == "" {
		return nil, fmt.Errorf("name, registry_url, and api_key are required")
	}

	encrypted, err := s.cipher.Encrypt(req.APIKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt peer api key: %w", err)
	}

	p := &FederationPeer{
		Name:            req.Name,
		RegistryURL:     req.RegistryURL,
		APIKeyEncrypted: encrypted,
		IsActive:        true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create federation peer: %w", err)
	}

	s.logger.Info("federation peer registered", zap.String("peer_id", p.PeerID), zap.String("name", p.Name))
	return p, nil
}

// ListPeers returns every registered peer.
func (s *FederationService) ListPeers(ctx context.Context) ([]*FederationPeer, error) {
	return s.repo.List(ctx)
}

// Search runs a capability-filtered federated search against every active
// peer with bounded concurrency, serving cached payloads where fresh, and
// merges the results: local results first (caller supplies those), then
// federated results grouped by peer in registration order, ties within a
// group broken by agent_id.
func (s *FederationService) Search(ctx context.Context, localAgents []map[string]any, filters map[string]string) (*SearchResult, error) {
	peers, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active peers: %w", err)
	}

	hash := queryHash(filters)

	type peerResult struct {
		peer    *FederationPeer
		agents  []map[string]any
		failure *PeerFailure
	}

	results := make([]peerResult, len(peers))
	sem := make(chan struct{}, 8)
	var wg sync.WaitGroup

	for i, peer := range peers {
		wg.Add(1)
		go func(idx int, p *FederationPeer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if cached, ok := s.cache.Get(p.PeerID, hash); ok {
				results[idx] = peerResult{peer: p, agents: cached}
				return
			}

			apiKey, err := s.cipher.Decrypt(p.APIKeyEncrypted)
			if err != nil {
				results[idx] = peerResult{peer: p, failure: &PeerFailure{PeerID: p.PeerID, Name: p.Name, Error: "decrypt api key: " + err.Error()}}
				return
			}

			queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
			defer cancel()

			agents, err := s.client.Search(queryCtx, p.RegistryURL, apiKey, filters)
			if err != nil {
				results[idx] = peerResult{peer: p, failure: &PeerFailure{PeerID: p.PeerID, Name: p.Name, Error: err.Error()}}
				return
			}

			s.cache.Set(p.PeerID, hash, agents)
			results[idx] = peerResult{peer: p, agents: agents}
		}(i, peer)
	}
	wg.Wait()

	out := &SearchResult{Agents: make([]FederatedAgent, 0, len(localAgents))}
	for _, a := range localAgents {
		out.Agents = append(out.Agents, FederatedAgent{Fields: a})
	}

	stats := SearchStats{Queried: len(peers)}
	for _, r := range results {
		if r.failure != nil {
			stats.Failed++
			s.logger.Warn("federated query failed", zap.String("peer_id", r.failure.PeerID), zap.String("error", r.failure.Error))
			continue
		}
		stats.Successful++
		stats.TotalFederatedResults += len(r.agents)

		sort.Slice(r.agents, func(i, j int) bool {
			return fmt.Sprint(r.agents[i]["agent_id"]) < fmt.Sprint(r.agents[j]["agent_id"])
		})
		for _, a := range r.agents {
			out.Agents = append(out.Agents, FederatedAgent{
				Fields:             a,
				IsFederated:        true,
				OriginRegistryName: r.peer.Name,
				OriginRegistryURL:  r.peer.RegistryURL,
			})
		}
	}
	out.Stats = stats
	return out, nil
}
