package gcp

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceAccountJSON = `{"type": "service_account", "project_id": "examai-dev", "client_email": "ocr@examai-dev.iam.gserviceaccount.com"}`

func TestClientOptions(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/secrets/sa.json", []byte(serviceAccountJSON), 0o600))

	tests := []struct {
		name    string
		cfg     Config
		wantLen int
		wantErr error
		source  string
	}{
		{"application default", Config{}, 0, nil, "application-default"},
		{"inline json", Config{Credentials: serviceAccountJSON}, 1, nil, "inline-json"},
		{"inline json with whitespace", Config{Credentials: "\n  " + serviceAccountJSON}, 1, nil, "inline-json"},
		{"file", Config{Credentials: "/secrets/sa.json"}, 1, nil, "file"},
		{"missing file", Config{Credentials: "/secrets/missing.json"}, 0, ErrCredentialsNotFound, "file"},
		{"broken inline json", Config{Credentials: `{"type": `}, 0, ErrInvalidCredentials, "inline-json"},
		{"emulator", Config{Endpoint: "http://localhost:4443/storage/v1/", WithoutAuth: true}, 2, nil, "none"},
		{"endpoint with file", Config{Endpoint: "https://vision.example", Credentials: "/secrets/sa.json"}, 2, nil, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.source, tt.cfg.CredentialSource())

			opts, err := ClientOptions(fs, tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, opts, tt.wantLen)
		})
	}
}
