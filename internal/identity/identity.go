// Package identity issues and verifies the bearer credentials that
// authenticate developers, agents, and admins against the registry.
//
// It provides:
//   - KeyManager     — loads or generates the RSA signing key used by both token issuers
//   - TokenIssuer     — issues and verifies RS256 JWT agent task tokens
//   - UserTokenIssuer — issues and verifies RS256 JWT developer/admin session tokens
//   - GenerateAPIKey / VerifyAPIKeySecret — mint and verify prefix/hash API keys for machine access
//   - RequireToken, RequireUserToken, RequireAdmin — Gin middleware
//
// SPIFFE/SPIRE-style mutual TLS and an X.509 certificate authority are
// treated as an external authenticator and are not implemented here.
package identity
