// Package drivea instantiates the drive adapter for the Google-Drive-shaped
// backend: OAuth endpoints, scopes, and the Drive v3 file operations
// (metadata search by name, multipart create, media download/update).
package drivea

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/drive"
	"github.com/vaultsync/enginecore/internal/provider/httpclient"
)

// FileName is the well-known Drive file every install reads and writes,
// scoped to the appDataFolder so it never clutters the user's visible Drive.
const FileName = "vaultsync-data.json"

const (
	authURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	tokenURL = "https://oauth2.googleapis.com/token"
)

// apiBase and uploadBase are vars, not consts, so tests can point them at an
// httptest server instead of the real Drive API.
var (
	apiBase    = "https://www.googleapis.com/drive/v3"
	uploadBase = "https://www.googleapis.com/upload/drive/v3"
)

// New builds the Google-Drive-shaped provider.Adapter.
func New(clientID string, doer ports.HTTPDoer) *drive.Adapter {
	return drive.New(clientID, drive.Endpoints{
		Name:             "driveA",
		AuthURL:          authURL,
		TokenURL:         tokenURL,
		Scopes:           []string{"https://www.googleapis.com/auth/drive.appdata"},
		FindOrCreateFile: findOrCreateFile,
		DownloadFile:     downloadFile,
		UploadFile:       uploadFile,
		FetchAccount:     fetchAccount,
	}, doer)
}

func findOrCreateFile(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (string, error) {
	q := url.QueryEscape(fmt.Sprintf("name = '%s' and 'appDataFolder' in parents and trashed = false", FileName))
	var list struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	err := c.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     apiBase + "/files?spaces=appDataFolder&q=" + q,
		Headers: authHeaders(tokens),
	}, &list)
	if err != nil {
		return "", err
	}
	if len(list.Files) > 0 {
		return list.Files[0].ID, nil
	}
	return createEmptyFile(ctx, c, tokens)
}

func createEmptyFile(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaPart, err := writer.CreatePart(map[string][]string{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", fmt.Errorf("drivea: creating metadata part: %w", err)
	}
	meta, err := json.Marshal(map[string]any{"name": FileName, "parents": []string{"appDataFolder"}})
	if err != nil {
		return "", fmt.Errorf("drivea: marshaling metadata: %w", err)
	}
	if _, err := metaPart.Write(meta); err != nil {
		return "", fmt.Errorf("drivea: writing metadata part: %w", err)
	}

	contentPart, err := writer.CreatePart(map[string][]string{"Content-Type": {"application/json"}})
	if err != nil {
		return "", fmt.Errorf("drivea: creating content part: %w", err)
	}
	if _, err := contentPart.Write([]byte("{}")); err != nil {
		return "", fmt.Errorf("drivea: writing content part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("drivea: closing multipart writer: %w", err)
	}

	headers := authHeaders(tokens)
	headers["Content-Type"] = "multipart/related; boundary=" + writer.Boundary()

	var created struct {
		ID string `json:"id"`
	}
	err = c.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     uploadBase + "/files?uploadType=multipart",
		Headers: headers,
		Body:    body.Bytes(),
	}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func downloadFile(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string) ([]byte, bool, error) {
	status, body, err := c.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     apiBase + "/files/" + resourceID + "?alt=media",
		Headers: authHeaders(tokens),
	})
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNoContent || len(body) == 0 || string(body) == "{}" {
		return nil, false, nil
	}
	return body, true, nil
}

func uploadFile(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens, resourceID string, content []byte) error {
	headers := authHeaders(tokens)
	headers["Content-Type"] = "application/json"
	_, _, err := c.Do(ctx, httpclient.Request{
		Method:  http.MethodPatch,
		URL:     uploadBase + "/files/" + resourceID + "?uploadType=media",
		Headers: headers,
		Body:    content,
	})
	return err
}

func fetchAccount(ctx context.Context, c *httpclient.Client, tokens *provider.Tokens) (*provider.Account, error) {
	var body struct {
		User struct {
			EmailAddress   string `json:"emailAddress"`
			PermissionID   string `json:"permissionId"`
		} `json:"user"`
	}
	err := c.DecodeJSON(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     apiBase + "/about?fields=user",
		Headers: authHeaders(tokens),
	}, &body)
	if err != nil {
		return nil, err
	}
	return &provider.Account{Login: body.User.EmailAddress, ID: body.User.PermissionID}, nil
}

func authHeaders(tokens *provider.Tokens) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
}
