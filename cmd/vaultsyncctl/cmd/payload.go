package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/vaultsync/enginecore/internal/orchestrator"
)

// filePayload is the demo's orchestrator.PayloadProvider: it treats a
// single local JSON file as the plaintext sync payload.
// A real embedder would back this with its actual hosts/keys/snippets
// application state instead.
type filePayload struct {
	path string
}

func newFilePayload(path string) *filePayload {
	return &filePayload{path: path}
}

var _ orchestrator.PayloadProvider = (*filePayload)(nil)

func (f *filePayload) Snapshot() (any, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]any{
			"hosts":        []any{},
			"keys":         []any{},
			"snippets":     []any{},
			"customGroups": []any{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vaultsyncctl: reading payload file: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("vaultsyncctl: parsing payload file: %w", err)
	}
	return v, nil
}

func (f *filePayload) Apply(payload json.RawMessage) error {
	pretty, err := formatJSON(payload)
	if err != nil {
		pretty = payload
	}
	return os.WriteFile(f.path, pretty, 0o600)
}

func formatJSON(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.MarshalIndent(v, "", "  ")
}
