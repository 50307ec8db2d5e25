// Package driveb instantiates the drive adapter for the Dropbox-shaped
// backend: OAuth endpoints/scopes and the Dropbox content/RPC API split
// (JSON RPC calls to api.dropboxapi.com, raw bytes to content.dropboxapi.com
// with arguments passed via the Dropbox-API-Arg header).
package driveb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/drive"
	"github.com/vaultsync/enginecore/internal/provider/httpclient"
)

// FilePath is the well-known app-folder-scoped path every install reads
// and writes. Dropbox app-folder permission scopes this to the app's own
// sandboxed folder automatically.
const FilePath = "/vaultsync-data.json"

const (
	authURL  = "https://www.dropbox.com/oauth2/authorize"
	tokenURL = "https://api.dropboxapi.com/oauth2/token"
)

// apiBase and contentBase are vars, not consts, so tests can point them at
// an httptest server instead of the real Dropbox API.
var (
	apiBase     = "https://api.dropboxapi.com/2"
	contentBase = "https://content.dropboxapi.com/2"
)

// New builds the Dropbox-shaped provider.Adapter.
func New(clientID string, doer ports.HTTPDoer) *drive.Adapter {
	return drive.New(clientID, drive.Endpoints{
		Name:             "driveB",
		AuthURL:          authURL,
		TokenURL:         tokenURL,
		Scopes:           []string{"files.content.write", "files.content.read", "account_info.read"},
		FindOrCreateFile: findOrCreateFile,
		DownloadFile:     downloadFile,
		UploadFile:       uploadFile,
		FetchAccount:     fetchAccount,
		RevokeToken:      revokeToken,
	}, doer)
}

// findOrCreateFile treats the path itself as the resource id: Dropbox
// addresses files by path, not an opaque id, so "creating" just means
// uploading an empty placeholder the first time download reports not-found.
func findOrCreateFile(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (string, error) {
	_, found, err := downloadFile(ctx, c, tokens, FilePath)
	if err != nil {
		return "", err
	}
	if !found {
		if err := uploadFile(ctx, c, tokens, FilePath, []byte("{}")); err != nil {
			return "", err
		}
	}
	return FilePath, nil
}

func downloadFile(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string) ([]byte, bool, error) {
	arg, err := json.Marshal(map[string]string{"path": resourceID})
	if err != nil {
		return nil, false, fmt.Errorf("driveb: marshaling download arg: %w", err)
	}
	headers := authHeaders(tokens)
	headers["Dropbox-API-Arg"] = string(arg)

	status, body, err := c.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     contentBase + "/files/download",
		Headers: headers,
	})
	if err != nil {
		if status == http.StatusConflict {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(body) == 0 || string(body) == "{}" {
		return nil, false, nil
	}
	return body, true, nil
}

func uploadFile(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string, content []byte) error {
	arg, err := json.Marshal(map[string]any{"path": resourceID, "mode": "overwrite"})
	if err != nil {
		return fmt.Errorf("driveb: marshaling upload arg: %w", err)
	}
	headers := authHeaders(tokens)
	headers["Dropbox-API-Arg"] = string(arg)
	headers["Content-Type"] = "application/octet-stream"

	_, _, err = c.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     contentBase + "/files/upload",
		Headers: headers,
		Body:    content,
	})
	return err
}

func fetchAccount(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (*provider.Account, error) {
	var body struct {
		AccountID string `json:"account_id"`
		Email     string `json:"email"`
	}
	headers := authHeaders(tokens)
	headers["Content-Type"] = "application/json"
	err := c.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     apiBase + "/users/get_current_account",
		Headers: headers,
		Body:    []byte("null"),
	}, &body)
	if err != nil {
		return nil, err
	}
	return &provider.Account{Login: body.Email, ID: body.AccountID}, nil
}

func revokeToken(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) error {
	headers := authHeaders(tokens)
	headers["Content-Type"] = "application/json"
	_, _, err := c.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     apiBase + "/auth/token/revoke",
		Headers: headers,
		Body:    []byte("null"),
	})
	return err
}

func authHeaders(tokens *provider.Tokens) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
}
