// Package drive implements the adapter shape shared by both Drive-shaped
// backends: an app-scoped folder holding one well-known file,
// authenticated with OAuth PKCE rather than the
// device-code flow gist uses. Endpoints parameterizes the provider-specific
// URLs and request/response shapes so drivea and driveb can each supply a
// thin Endpoints value instead of duplicating this adapter.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/vaultsync/enginecore/internal/envelope"
	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/httpclient"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

// Endpoints captures everything that differs between the two concrete
// Drive-shaped backends: their OAuth endpoints/scopes and the functions
// that speak each one's particular file-listing/upload/download API.
type Endpoints struct {
	Name         string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RateLimit    float64
	Burst        int

	// FindOrCreateFile locates (or creates) the well-known sync file and
	// returns its opaque resource id.
	FindOrCreateFile func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (resourceID string, err error)

	// DownloadFile fetches the current file content, or found=false if it
	// has never been written to.
	DownloadFile func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string) (content []byte, found bool, err error)

	// UploadFile overwrites the file's content.
	UploadFile func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string, content []byte) error

	// FetchAccount returns the authenticated account's identity.
	FetchAccount func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (*provider.Account, error)

	// RevokeToken best-effort revokes tokens at sign-out. May be nil when
	// the backend has no revoke endpoint.
	RevokeToken func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) error
}

// Adapter is the PKCE provider.Adapter implementation, generic over an
// Endpoints value.
type Adapter struct {
	clientID     string
	redirectHint string
	endpoints    Endpoints
	http         *httpclient.Client

	pending pendingState
}

type pendingState struct {
	verifier string
	state    string
}

// New builds a drive-style Adapter for the given endpoints.
func New(clientID string, endpoints Endpoints, doer ports.HTTPDoer) *Adapter {
	rate := endpoints.RateLimit
	if rate == 0 {
		rate = 5
	}
	burst := endpoints.Burst
	if burst == 0 {
		burst = 10
	}
	return &Adapter{
		clientID:  clientID,
		endpoints: endpoints,
		http:      httpclient.New(doer, rate, burst),
	}
}

func (a *Adapter) Name() string { return a.endpoints.Name }

func (a *Adapter) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    a.clientID,
		RedirectURL: redirectURI,
		Scopes:      a.endpoints.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.endpoints.AuthURL,
			TokenURL: a.endpoints.TokenURL,
		},
	}
}

// StartAuth builds the PKCE authorization URL. The verifier and anti-CSRF
// state are held on the adapter until CompleteAuth exchanges them; a host
// embedding the engine in a multi-tenant process would need one Adapter per
// in-flight auth, which matches the engine's own single-connection-at-a-time
// model for a given provider.
func (a *Adapter) StartAuth(ctx context.Context, opts provider.AuthOptions) (*provider.AuthStart, error) {
	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("drive: generating state: %w", err)
	}

	a.pending = pendingState{verifier: verifier, state: state}
	cfg := a.oauthConfig(opts.RedirectURI)
	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	return &provider.AuthStart{
		Pkce: &provider.PkceStart{
			AuthURL:     authURL,
			RedirectURI: opts.RedirectURI,
			State:       state,
		},
	}, nil
}

func (a *Adapter) CompleteAuth(ctx context.Context, evidence provider.AuthEvidence) (*provider.Tokens, *provider.Account, error) {
	if evidence.State != a.pending.state {
		return nil, nil, fmt.Errorf("drive: state mismatch, possible CSRF")
	}
	cfg := a.oauthConfig(evidence.RedirectURI)
	tok, err := cfg.Exchange(ctx, evidence.Code, oauth2.VerifierOption(a.pending.verifier))
	if err != nil {
		return nil, nil, httpclient.ClassifyStatus(http.StatusUnauthorized, []byte(err.Error()))
	}

	tokens := tokensFromOAuth(tok)
	account, err := a.endpoints.FetchAccount(ctx, a.http, tokens)
	if err != nil {
		return nil, nil, err
	}
	return tokens, account, nil
}

func (a *Adapter) InitializeSync(ctx context.Context, tokens *provider.Tokens) (string, *provider.Tokens, error) {
	tokens, refreshed, err := a.ensureFresh(ctx, tokens)
	if err != nil {
		return "", nil, err
	}
	id, err := a.endpoints.FindOrCreateFile(ctx, a.http, tokens)
	if err != nil {
		return "", refreshed, err
	}
	return id, refreshed, nil
}

func (a *Adapter) Upload(ctx context.Context, tokens *provider.Tokens, resourceID string, file *envelope.SyncedFile) (*provider.Tokens, error) {
	tokens, refreshed, err := a.ensureFresh(ctx, tokens)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(file)
	if err != nil {
		return refreshed, fmt.Errorf("drive: marshaling synced file: %w", err)
	}
	return refreshed, a.endpoints.UploadFile(ctx, a.http, tokens, resourceID, content)
}

func (a *Adapter) Download(ctx context.Context, tokens *provider.Tokens, resourceID string) (*envelope.SyncedFile, bool, *provider.Tokens, error) {
	tokens, refreshed, err := a.ensureFresh(ctx, tokens)
	if err != nil {
		return nil, false, nil, err
	}
	content, found, err := a.endpoints.DownloadFile(ctx, a.http, tokens, resourceID)
	if err != nil {
		return nil, false, refreshed, err
	}
	if !found {
		return nil, false, refreshed, nil
	}
	synced, err := envelope.ParseSyncedFile(content)
	if err != nil {
		return nil, false, refreshed, err
	}
	return synced, true, refreshed, nil
}

// ensureFresh implements the §4.4 token-refresh policy: before any
// request, if tokens expire within 60 seconds, refresh using refreshToken
// before proceeding. On refresh failure the adapter reports
// vaulterr.ReauthRequired rather than the raw token-endpoint error, since
// the orchestrator maps that straight to the provider's error status.
func (a *Adapter) ensureFresh(ctx context.Context, tokens *provider.Tokens) (*provider.Tokens, *provider.Tokens, error) {
	if !tokens.NeedsRefresh(time.Now()) {
		return tokens, nil, nil
	}
	if tokens.RefreshToken == "" {
		return nil, nil, vaulterr.New(vaulterr.ReauthRequired, "access token expired and no refresh token available")
	}
	cfg := a.oauthConfig("")
	// Expiry is deliberately backdated: we already know (NeedsRefresh) that
	// this token is due for replacement, and oauth2's TokenSource only
	// hits the refresh endpoint when it sees an expired token.
	src := cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, nil, vaulterr.Wrap(vaulterr.ReauthRequired, "refreshing access token", err)
	}
	refreshed := tokensFromOAuth(tok)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	return refreshed, refreshed, nil
}

func (a *Adapter) SignOut(ctx context.Context, tokens *provider.Tokens) error {
	if a.endpoints.RevokeToken == nil {
		return nil
	}
	return a.endpoints.RevokeToken(ctx, a.http, tokens)
}

func tokensFromOAuth(tok *oauth2.Token) *provider.Tokens {
	t := &provider.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		t.ExpiresAt = &exp
	}
	return t
}

func randomState() (string, error) {
	return oauth2.GenerateVerifier(), nil
}

var _ provider.Adapter = (*Adapter)(nil)
