// Package gist implements a "gist-style" provider adapter: a single
// well-known file inside a provider's flat per-user object list,
// authenticated with OAuth device-code flow. It is written against
// GitHub's gist API, using golang.org/x/oauth2's DeviceAuth/
// DeviceAccessToken exactly as the library documents the flow.
package gist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/vaultsync/enginecore/internal/envelope"
	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/httpclient"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

const (
	// FileName is the well-known gist file every install reads and writes.
	FileName = "vaultsync-data.json"

	apiBase      = "https://api.github.com"
	deviceAuthURL = "https://github.com/login/device/code"
	tokenURL      = "https://github.com/login/oauth/access_token"
)

// Adapter is the gist-style provider.Adapter implementation.
type Adapter struct {
	clientID     string
	clientSecret string
	http         *httpclient.Client
	baseURL      string // overridden in tests to point at an httptest server
	tokenURL     string // overridden in tests to point at an httptest server

	mu      sync.Mutex
	pending map[string]*oauth2.DeviceAuthResponse // keyed by DeviceCode
}

// New builds a gist Adapter. doer supplies the outbound HTTP transport
// (normally *http.Client); the rate limit guards against tripping GitHub's
// per-token secondary rate limits during auto-sync.
func New(clientID, clientSecret string, doer ports.HTTPDoer) *Adapter {
	return &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpclient.New(doer, 5, 10),
		baseURL:      apiBase,
		tokenURL:     tokenURL,
		pending:      make(map[string]*oauth2.DeviceAuthResponse),
	}
}

func (a *Adapter) Name() string { return "gist" }

func (a *Adapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:       deviceAuthURL,
			TokenURL:      a.tokenURL,
			DeviceAuthURL: deviceAuthURL,
		},
		Scopes: []string{"gist"},
	}
}

func (a *Adapter) StartAuth(ctx context.Context, _ provider.AuthOptions) (*provider.AuthStart, error) {
	cfg := a.oauthConfig()
	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, httpclient.ClassifyStatus(http.StatusBadGateway, []byte(err.Error()))
	}

	a.mu.Lock()
	a.pending[da.DeviceCode] = da
	a.mu.Unlock()

	interval := da.Interval
	if interval == 0 {
		interval = 5
	}
	return &provider.AuthStart{
		DeviceCode: &provider.DeviceCodeStart{
			UserCode:        da.UserCode,
			VerificationURI: da.VerificationURI,
			Interval:        time.Duration(interval) * time.Second,
			ExpiresAt:       da.Expiry,
		},
	}, nil
}

func (a *Adapter) CompleteAuth(ctx context.Context, evidence provider.AuthEvidence) (*provider.Tokens, *provider.Account, error) {
	a.mu.Lock()
	da := a.pending[evidence.DeviceCode]
	delete(a.pending, evidence.DeviceCode)
	a.mu.Unlock()

	if da == nil {
		return nil, nil, fmt.Errorf("gist: no pending device auth for this code")
	}

	tok, err := a.oauthConfig().DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, nil, httpclient.ClassifyStatus(http.StatusUnauthorized, []byte(err.Error()))
	}

	tokens := tokensFromOAuth(tok)
	account, err := a.fetchAccount(ctx, tokens)
	if err != nil {
		return nil, nil, err
	}
	return tokens, account, nil
}

func (a *Adapter) fetchAccount(ctx context.Context, tokens *provider.Tokens) (*provider.Account, error) {
	var body struct {
		Login string `json:"login"`
		ID    int64  `json:"id"`
	}
	err := a.http.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     a.baseURL + "/user",
		Headers: authHeaders(tokens),
	}, &body)
	if err != nil {
		return nil, err
	}
	return &provider.Account{Login: body.Login, ID: fmt.Sprintf("%d", body.ID)}, nil
}

func (a *Adapter) InitializeSync(ctx context.Context, tokens *provider.Tokens) (string, *provider.Tokens, error) {
	tokens, refreshed, err := a.ensureFresh(ctx, tokens)
	if err != nil {
		return "", nil, err
	}

	var gists []struct {
		ID    string                     `json:"id"`
		Files map[string]json.RawMessage `json:"files"`
	}
	if err := a.http.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     a.baseURL + "/gists",
		Headers: authHeaders(tokens),
	}, &gists); err != nil {
		return "", refreshed, err
	}
	for _, g := range gists {
		if _, ok := g.Files[FileName]; ok {
			return g.ID, refreshed, nil
		}
	}

	created, err := a.createGist(ctx, tokens)
	if err != nil {
		return "", refreshed, err
	}
	return created, refreshed, nil
}

// ensureFresh implements the §4.4 token-refresh policy for GitHub App
// tokens, which (unlike classic OAuth-app tokens) expire and carry a
// refresh token. tokens.ExpiresAt is nil for classic apps, so NeedsRefresh
// is always false for them and this is a no-op.
func (a *Adapter) ensureFresh(ctx context.Context, tokens *provider.Tokens) (*provider.Tokens, *provider.Tokens, error) {
	if !tokens.NeedsRefresh(time.Now()) {
		return tokens, nil, nil
	}
	if tokens.RefreshToken == "" {
		return nil, nil, vaulterr.New(vaulterr.ReauthRequired, "access token expired and no refresh token available")
	}
	cfg := a.oauthConfig()
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

func (a *Adapter) createGist(ctx context.Context, tokens *provider.Tokens) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"description": "vaultsync encrypted secrets",
		"public":      false,
		"files": map[string]any{
			FileName: map[string]string{"content": "{}"},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gist: marshaling create payload: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	headers := authHeaders(tokens)
	headers["Content-Type"] = "application/json"
	err = a.http.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     a.baseURL + "/gists",
		Headers: headers,
		Body:    payload,
	}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (a *Adapter) Upload(ctx context.Context, tokens *provider.Tokens, resourceID string, file *envelope.SyncedFile) (*provider.Tokens, error) {
	tokens, refreshed, err := a.ensureFresh(ctx, tokens)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(file)
	if err != nil {
		return refreshed, fmt.Errorf("gist: marshaling synced file: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"files": map[string]any{
			FileName: map[string]string{"content": string(content)},
		},
	})
	if err != nil {
		return refreshed, fmt.Errorf("gist: marshaling patch payload: %w", err)
	}

	headers := authHeaders(tokens)
	headers["Content-Type"] = "application/json"
	_, _, err = a.http.Do(ctx, httpclient.Request{
		Method:  http.MethodPatch,
		URL:     a.baseURL + "/gists/" + resourceID,
		Headers: headers,
		Body:    payload,
	})
	return refreshed, err
}

func (a *Adapter) Download(ctx context.Context, tokens *provider.Tokens, resourceID string) (*envelope.SyncedFile, bool, *provider.Tokens, error) {
	tokens, refreshed, err := a.ensureFresh(ctx, tokens)
	if err != nil {
		return nil, false, nil, err
	}

	var gist struct {
		Files map[string]struct {
			Content string `json:"content"`
		} `json:"files"`
	}
	err = a.http.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     a.baseURL + "/gists/" + resourceID,
		Headers: authHeaders(tokens),
	}, &gist)
	if err != nil {
		return nil, false, refreshed, err
	}

	f, ok := gist.Files[FileName]
	if !ok || f.Content == "" || f.Content == "{}" {
		return nil, false, refreshed, nil
	}

	synced, err := envelope.ParseSyncedFile([]byte(f.Content))
	if err != nil {
		return nil, false, refreshed, err
	}
	return synced, true, refreshed, nil
}

func (a *Adapter) SignOut(ctx context.Context, tokens *provider.Tokens) error {
	_, _, err := a.http.Do(ctx, httpclient.Request{
		Method:  http.MethodDelete,
		URL:     fmt.Sprintf("%s/applications/%s/grant", a.baseURL, a.clientID),
		Headers: authHeaders(tokens),
	})
	return err
}

func authHeaders(tokens *provider.Tokens) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + tokens.AccessToken,
		"Accept":        "application/vnd.github+json",
	}
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

var _ provider.Adapter = (*Adapter)(nil)
