package drivea

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vaultsync/enginecore/internal/provider"
	"github.com/vaultsync/enginecore/internal/provider/httpclient"
)

func withTestServer(t *testing.T, handler http.HandlerFunc) (*httpclient.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	origAPI, origUpload := apiBase, uploadBase
	apiBase, uploadBase = server.URL, server.URL
	t.Cleanup(func() { apiBase, uploadBase = origAPI, origUpload })

	return httpclient.New(server.Client(), 100, 10), server
}

func TestFindOrCreateFileReturnsExistingID(t *testing.T) {
	c, _ := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"files":[{"id":"file-1"}]}`))
	})

	id, err := findOrCreateFile(context.Background(), c, &provider.Tokens{AccessToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "file-1" {
		t.Fatalf("expected file-1, got %q", id)
	}
}

func TestFindOrCreateFileCreatesWhenAbsent(t *testing.T) {
	c, _ := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"files":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"created-1"}`))
	})

	id, err := findOrCreateFile(context.Background(), c, &provider.Tokens{AccessToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "created-1" {
		t.Fatalf("expected created-1, got %q", id)
	}
}

func TestDownloadFileReportsNotFoundOnEmptyPlaceholder(t *testing.T) {
	c, _ := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, found, err := downloadFile(context.Background(), c, &provider.Tokens{AccessToken: "tok"}, "file-1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected found=false for placeholder content")
	}
}

func TestDownloadFileReturnsContent(t *testing.T) {
	c, _ := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta":{"version":1}}`))
	})

	content, found, err := downloadFile(context.Background(), c, &provider.Tokens{AccessToken: "tok"}, "file-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || len(content) == 0 {
		t.Fatalf("expected found content, got found=%v content=%q", found, content)
	}
}

func TestUploadFileSendsPatch(t *testing.T) {
	var gotMethod string
	c, _ := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	})

	if err := uploadFile(context.Background(), c, &provider.Tokens{AccessToken: "tok"}, "file-1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", gotMethod)
	}
}

func TestFetchAccountParsesUserEmail(t *testing.T) {
	c, _ := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user":{"emailAddress":"user@example.com","permissionId":"p1"}}`))
	})

	account, err := fetchAccount(context.Background(), c, &provider.Tokens{AccessToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if account.Login != "user@example.com" || account.ID != "p1" {
		t.Fatalf("unexpected account: %+v", account)
	}
}
