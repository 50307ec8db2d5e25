package drive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vaultsync/enginecore/internal/envelope"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/httpclient"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

func testEndpoints(found bool) Endpoints {
	return Endpoints{
		Name: "testdrive",
		FindOrCreateFile: func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (string, error) {
			return "resource-1", nil
		},
		DownloadFile: func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string) ([]byte, bool, error) {
			if !found {
				return nil, false, nil
			}
			return []byte(`{"meta":{"version":1,"updatedAt":1,"deviceId":"d","deviceName":"n","appVersion":"1","iv":"AAAAAAAAAAAAAAAA","salt":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=","algorithm":"AES-256-GCM","kdf":"PBKDF2","kdfIterations":600000},"payload":"cGF5bG9hZA=="}`), true, nil
		},
		UploadFile: func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string, content []byte) error {
			return nil
		},
		FetchAccount: func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (*provider.Account, error) {
			return &provider.Account{Login: "user@example.com", ID: "1"}, nil
		},
	}
}

func TestStartAuthProducesPkceURL(t *testing.T) {
	a := New("client-id", testEndpoints(false), http.DefaultClient)
	start, err := a.StartAuth(context.Background(), provider.AuthOptions{RedirectURI: "https://localhost/callback"})
	if err != nil {
		t.Fatal(err)
	}
	if start.Pkce == nil || start.DeviceCode != nil {
		t.Fatalf("expected a Pkce-shaped AuthStart, got %+v", start)
	}
	if start.Pkce.State == "" || start.Pkce.AuthURL == "" {
		t.Fatalf("expected non-empty state and auth URL, got %+v", start.Pkce)
	}
}

func TestCompleteAuthRejectsStateMismatch(t *testing.T) {
	a := New("client-id", testEndpoints(false), http.DefaultClient)
	if _, err := a.StartAuth(context.Background(), provider.AuthOptions{RedirectURI: "https://localhost/callback"}); err != nil {
		t.Fatal(err)
	}
	_, _, err := a.CompleteAuth(context.Background(), provider.AuthEvidence{Code: "abc", State: "wrong-state"})
	if err == nil {
		t.Fatal("expected an error for mismatched state")
	}
}

func TestInitializeSyncDelegatesToEndpoints(t *testing.T) {
	a := New("client-id", testEndpoints(false), http.DefaultClient)
	id, _, err := a.InitializeSync(context.Background(), &provider.Tokens{AccessToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "resource-1" {
		t.Fatalf("expected resource-1, got %q", id)
	}
}

func TestDownloadNotFound(t *testing.T) {
	a := New("client-id", testEndpoints(false), http.DefaultClient)
	file, found, _, err := a.Download(context.Background(), &provider.Tokens{AccessToken: "tok"}, "resource-1")
	if err != nil {
		t.Fatal(err)
	}
	if found || file != nil {
		t.Fatalf("expected not found, got found=%v file=%+v", found, file)
	}
}

func TestDownloadParsesContent(t *testing.T) {
	a := New("client-id", testEndpoints(true), http.DefaultClient)
	file, found, _, err := a.Download(context.Background(), &provider.Tokens{AccessToken: "tok"}, "resource-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if file.Meta.Version != 1 {
		t.Fatalf("expected version 1, got %d", file.Meta.Version)
	}
}

func TestUploadMarshalsSyncedFile(t *testing.T) {
	var captured []byte
	endpoints := testEndpoints(false)
	endpoints.UploadFile = func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string, content []byte) error {
		captured = content
		return nil
	}
	a := New("client-id", endpoints, http.DefaultClient)
	synced := &envelope.SyncedFile{Meta: envelope.Meta{Version: 3}, Payload: "cGF5bG9hZA=="}
	if _, err := a.Upload(context.Background(), &provider.Tokens{AccessToken: "tok"}, "resource-1", synced); err != nil {
		t.Fatal(err)
	}
	if len(captured) == 0 {
		t.Fatal("expected UploadFile to receive marshaled content")
	}
}

func TestDownloadRefreshesExpiredToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var gotAuth string
	endpoints := testEndpoints(false)
	endpoints.TokenURL = tokenServer.URL
	endpoints.DownloadFile = func(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string) ([]byte, bool, error) {
		gotAuth = tokens.AccessToken
		return nil, false, nil
	}
	a := New("client-id", endpoints, http.DefaultClient)

	past := time.Now().Add(-time.Hour)
	expired := &provider.Tokens{AccessToken: "old-access", RefreshToken: "old-refresh", TokenType: "Bearer", ExpiresAt: &past}

	_, _, refreshed, err := a.Download(context.Background(), expired, "resource-1")
	if err != nil {
		t.Fatal(err)
	}
	if refreshed == nil || refreshed.AccessToken != "new-access" {
		t.Fatalf("expected refreshed tokens carrying the new access token, got %+v", refreshed)
	}
	if gotAuth != "new-access" {
		t.Fatalf("expected DownloadFile to see the refreshed access token, got %q", gotAuth)
	}
}

func TestDownloadFailsReauthRequiredWhenNoRefreshToken(t *testing.T) {
	a := New("client-id", testEndpoints(false), http.DefaultClient)
	past := time.Now().Add(-time.Hour)
	expired := &provider.Tokens{AccessToken: "old-access", ExpiresAt: &past}

	_, _, _, err := a.Download(context.Background(), expired, "resource-1")
	if !vaulterr.Of(err, vaulterr.ReauthRequired) {
		t.Fatalf("expected ReauthRequired when the access token is expired with no refresh token, got %v", err)
	}
}

func TestSignOutNoopsWithoutRevokeEndpoint(t *testing.T) {
	a := New("client-id", testEndpoints(false), http.DefaultClient)
	if err := a.SignOut(context.Background(), &provider.Tokens{AccessToken: "tok"}); err != nil {
		t.Fatalf("expected nil error when RevokeToken is unset, got %v", err)
	}
}
