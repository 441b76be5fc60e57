// Package auth implements the CredentialProvider collaborator from
// spec §6: invoked by the error handler's authentication path, it
// offers Refresh(pipelineId) while the affected instance stays in
// Maintenance. The OAuth2 device-flow module that actually mints
// tokens is out of scope; this package only tracks expiry and calls
// an injected refresh callback standing in for it, the way the
// teacher's JWTAuthenticator (auth/jwt.go) parses and validates tokens
// without owning how they were issued.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jasonzhangf/pipeline-scheduler/logging"
)

// CredentialProvider is the spec §6 collaborator.
type CredentialProvider interface {
	Refresh(ctx context.Context, pipelineID string) error
}

// RefreshFunc performs the actual token exchange against the
// out-of-scope OAuth2 device-flow module and returns the new token.
type RefreshFunc func(ctx context.Context, pipelineID string) (token string, expiresAt time.Time, err error)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// JWTCredentialProvider checks a cached token's expiry (the expiresAt
// returned by its RefreshFunc) before deciding a refresh is needed;
// jwt/v5 is used only by ParseExpiry. It persists refreshed tokens
// either in-memory or, if a Store is configured, durably — so a
// scheduler restart doesn't force every pipeline to re-authenticate at
// once.
type JWTCredentialProvider struct {
	refresh RefreshFunc
	logger  logging.Logger
	store   Store

	mu     sync.Mutex
	cached map[string]cachedToken
}

// Store persists a refreshed token across process restarts.
type Store interface {
	Save(ctx context.Context, pipelineID, token string, expiresAt time.Time) error
	Load(ctx context.Context, pipelineID string) (token string, expiresAt time.Time, ok bool)
}

func NewJWTCredentialProvider(refresh RefreshFunc, store Store, logger logging.Logger) *JWTCredentialProvider {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &JWTCredentialProvider{
		refresh: refresh,
		store:   store,
		logger:  logger,
		cached:  make(map[string]cachedToken),
	}
}

// Refresh ensures pipelineID has a non-expired token, calling the
// injected RefreshFunc when the cached (or store-loaded) token is
// absent or expired.
func (p *JWTCredentialProvider) Refresh(ctx context.Context, pipelineID string) error {
	if tok, ok := p.validCached(ctx, pipelineID); ok {
		_ = tok
		return nil
	}

	if p.refresh == nil {
		return fmt.Errorf("auth: no refresh function configured for pipeline %q", pipelineID)
	}

	token, expiresAt, err := p.refresh(ctx, pipelineID)
	if err != nil {
		p.logger.Error("credential refresh failed", map[string]interface{}{"pipeline_id": pipelineID, "error": err.Error()})
		return fmt.Errorf("auth: refresh failed for pipeline %q: %w", pipelineID, err)
	}

	p.mu.Lock()
	p.cached[pipelineID] = cachedToken{token: token, expiresAt: expiresAt}
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Save(ctx, pipelineID, token, expiresAt); err != nil {
			p.logger.Warn("credential store save failed", map[string]interface{}{"pipeline_id": pipelineID, "error": err.Error()})
		}
	}

	p.logger.Info("credential refreshed", map[string]interface{}{"pipeline_id": pipelineID, "expires_at": expiresAt})
	return nil
}

func (p *JWTCredentialProvider) validCached(ctx context.Context, pipelineID string) (string, bool) {
	p.mu.Lock()
	tok, ok := p.cached[pipelineID]
	p.mu.Unlock()

	if !ok && p.store != nil {
		if storedTok, exp, found := p.store.Load(ctx, pipelineID); found {
			tok = cachedToken{token: storedTok, expiresAt: exp}
			ok = true
			p.mu.Lock()
			p.cached[pipelineID] = tok
			p.mu.Unlock()
		}
	}
	if !ok {
		return "", false
	}
	if time.Now().After(tok.expiresAt) {
		return "", false
	}
	return tok.token, true
}

// ParseExpiry extracts the exp claim from an unverified JWT, used when
// a caller hands this provider a token minted elsewhere and wants to
// know its expiry without a signing key to validate it against.
func ParseExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("auth: parsing token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("auth: token has no exp claim")
	}
	return exp.Time, nil
}
