// Package credentials supplies the API keys the processing adapters authenticate with.
// Keys are fetched once per batch and carried to adapters on the context.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ErrUnavailable is wrapped by every provider failure.
var ErrUnavailable = errors.New("processing credentials unavailable")

// Credentials are the per-adapter keys for one batch.
type Credentials struct {
	ConversionKey  string
	ExtractionKey  string
	StructuringKey string
	// ExpiresAt is zero for keys that never expire.
	ExpiresAt time.Time
}

// Provider fetches processing credentials.
type Provider interface {
	GetProcessingCredentials(ctx context.Context) (Credentials, error)
}

type ctxKey struct{}

// WithCredentials returns a context carrying creds.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, ctxKey{}, creds)
}

// FromContext returns the credentials stored by WithCredentials.
func FromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(ctxKey{}).(Credentials)
	return creds, ok
}

// EnvProvider serves static keys from configuration.
type EnvProvider struct {
	creds Credentials
}

// NewEnvProvider returns a provider for static keys. At least one key must be set.
func NewEnvProvider(conversionKey, extractionKey, structuringKey string) *EnvProvider {
	return &EnvProvider{creds: Credentials{
		ConversionKey:  strings.TrimSpace(conversionKey),
		ExtractionKey:  strings.TrimSpace(extractionKey),
		StructuringKey: strings.TrimSpace(structuringKey),
	}}
}

func (p *EnvProvider) GetProcessingCredentials(ctx context.Context) (Credentials, error) {
	if p.creds.ExtractionKey == "" && p.creds.StructuringKey == "" && p.creds.ConversionKey == "" {
		return Credentials{}, fmt.Errorf("%w: no api keys configured", ErrUnavailable)
	}
	return p.creds, nil
}

// OAuthProvider exchanges client credentials for a bearer token accepted by all
// three processing services, typically behind one gateway.
type OAuthProvider struct {
	cfg *clientcredentials.Config
}

// NewOAuthProvider builds a client-credentials provider.
func NewOAuthProvider(tokenURL, clientID, clientSecret string, scopes []string) (*OAuthProvider, error) {
	if strings.TrimSpace(tokenURL) == "" || strings.TrimSpace(clientID) == "" {
		return nil, errors.New("oauth token url and client id are required")
	}
	return &OAuthProvider{cfg: &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}}, nil
}

func (p *OAuthProvider) GetProcessingCredentials(ctx context.Context) (Credentials, error) {
	token, err := p.cfg.Token(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if token.AccessToken == "" {
		return Credentials{}, fmt.Errorf("%w: empty access token", ErrUnavailable)
	}
	return Credentials{
		ConversionKey:  token.AccessToken,
		ExtractionKey:  token.AccessToken,
		StructuringKey: token.AccessToken,
		ExpiresAt:      token.Expiry,
	}, nil
}

// CachingProvider reuses the last credentials until shortly before they expire.
type CachingProvider struct {
	next   Provider
	ttl    time.Duration
	margin time.Duration
	now    func() time.Time

	mu      sync.Mutex
	cached  Credentials
	fetched time.Time
	valid   bool
}

// NewCachingProvider wraps next. ttl bounds reuse of credentials without an expiry.
func NewCachingProvider(next Provider, ttl time.Duration) *CachingProvider {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachingProvider{next: next, ttl: ttl, margin: 30 * time.Second, now: time.Now}
}

func (p *CachingProvider) GetProcessingCredentials(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.valid && p.fresh(now) {
		return p.cached, nil
	}
	creds, err := p.next.GetProcessingCredentials(ctx)
	if err != nil {
		p.valid = false
		return Credentials{}, err
	}
	p.cached, p.fetched, p.valid = creds, now, true
	return creds, nil
}

func (p *CachingProvider) fresh(now time.Time) bool {
	if !p.cached.ExpiresAt.IsZero() {
		return now.Add(p.margin).Before(p.cached.ExpiresAt)
	}
	return now.Sub(p.fetched) < p.ttl
}
