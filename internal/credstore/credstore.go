// Package credstore resolves secrets for external services (SMTP relays,
// OAuth client credentials, upstream API tokens) through an ordered chain
// of sources, the same load-from-disk-else-environment shape the registry
// uses for its own signing key, generalized to a pluggable chain so a
// future OS keyring backend can be added without touching call sites.
package credstore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrCredentialSourceUnavailable is returned when a requested source (e.g.
// the OS keyring) cannot be opened.
var ErrCredentialSourceUnavailable = errors.New("credential source unavailable")

// Source is one place a secret may be resolved from.
type Source interface {
	// Lookup returns the value for serviceID and whether it was found.
	Lookup(serviceID string) (string, bool)
	// Name identifies the source for diagnostics ("file", "env", "keyring").
	Name() string
}

// Config controls which sources Store consults and in what order.
type Config struct {
	KeyFilePath    string
	UseEnvVars     bool
	UseKeyring     bool
	EnvPrefix      string // default "AGENTVAULT_KEY_"
	OAuthEnvPrefix string // default "AGENTVAULT_OAUTH_"
	Keyring        Source // required when UseKeyring is true
}

// Store resolves secrets through an ordered chain: key file, process
// environment, OS keyring (on-demand only).
type Store struct {
	sources        []Source
	oauthEnvPrefix string
}

// New builds a Store from cfg. Returns ErrCredentialSourceUnavailable if
// UseKeyring is set but cfg.Keyring is nil.
func New(cfg Config) (*Store, error) {
	if cfg.EnvPrefix == "" {
		cfg.EnvPrefix = "AGENTVAULT_KEY_"
	}
	if cfg.OAuthEnvPrefix == "" {
		cfg.OAuthEnvPrefix = "AGENTVAULT_OAUTH_"
	}

	var sources []Source
	if cfg.KeyFilePath != "" {
		fs, err := newFileSource(cfg.KeyFilePath)
		if err != nil {
			return nil, fmt.Errorf("load key file: %w", err)
		}
		sources = append(sources, fs)
	}
	if cfg.UseEnvVars {
		sources = append(sources, envSource{prefix: cfg.EnvPrefix})
	}
	if cfg.UseKeyring {
		if cfg.Keyring == nil {
			return nil, fmt.Errorf("%w: keyring requested but no backend configured", ErrCredentialSourceUnavailable)
		}
		sources = append(sources, cfg.Keyring)
	}

	return &Store{sources: sources, oauthEnvPrefix: cfg.OAuthEnvPrefix}, nil
}

// Resolve returns the first non-empty value for serviceID across the
// configured source chain, along with the name of the source that supplied
// it.
func (s *Store) Resolve(serviceID string) (value, source string, ok bool) {
	for _, src := range s.sources {
		if v, found := src.Lookup(serviceID); found && v != "" {
			return v, src.Name(), true
		}
	}
	return "", "", false
}

// ResolveOAuth returns the (client_id, client_secret) pair for an OAuth
// service, read from AGENTVAULT_OAUTH_<SERVICE>_CLIENT_ID/SECRET.
func (s *Store) ResolveOAuth(serviceID string) (clientID, clientSecret string, ok bool) {
	id := os.Getenv(s.oauthEnvPrefix + strings.ToUpper(serviceID) + "_CLIENT_ID")
	secret := os.Getenv(s.oauthEnvPrefix + strings.ToUpper(serviceID) + "_CLIENT_SECRET")
	if id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

// envSource resolves "<prefix><SERVICE_ID>" environment variables.
type envSource struct{ prefix string }

func (e envSource) Name() string { return "env" }

func (e envSource) Lookup(serviceID string) (string, bool) {
	v := os.Getenv(e.prefix + strings.ToUpper(serviceID))
	return v, v != ""
}

// fileSource resolves secrets from a flat "service_id=value" key file,
// loaded once at startup — first match wins on duplicate keys.
type fileSource struct {
	values map[string]string
}

func newFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		k = strings.TrimSpace(k)
		if _, exists := values[k]; !exists {
			values[k] = strings.TrimSpace(v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &fileSource{values: values}, nil
}

func (f *fileSource) Name() string { return "file" }

func (f *fileSource) Lookup(serviceID string) (string, bool) {
	v, ok := f.values[serviceID]
	return v, ok
}
