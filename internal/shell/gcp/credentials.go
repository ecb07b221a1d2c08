// Package gcp resolves client options for Google Cloud APIs.
package gcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"google.golang.org/api/option"
)

var (
	ErrCredentialsNotFound = errors.New("credentials file not found")
	ErrInvalidCredentials  = errors.New("credentials are not valid JSON")
)

// Config describes how to authenticate against Google Cloud.
type Config struct {
	// Credentials is a service-account file path, the inline JSON of a
	// service account, or empty for application default credentials.
	Credentials string

	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string

	// WithoutAuth disables authentication; only useful with Endpoint.
	WithoutAuth bool
}

// CredentialSource names where credentials come from, for logging.
func (c Config) CredentialSource() string {
	switch {
	case c.WithoutAuth:
		return "none"
	case strings.TrimSpace(c.Credentials) == "":
		return "application-default"
	case isInlineJSON(c.Credentials):
		return "inline-json"
	default:
		return "file"
	}
}

// ClientOptions builds the options shared by the Storage and Vision clients.
func ClientOptions(fs afero.Fs, cfg Config) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.WithoutAuth {
		return append(opts, option.WithoutAuthentication()), nil
	}

	creds := strings.TrimSpace(cfg.Credentials)
	switch {
	case creds == "":
		return opts, nil
	case isInlineJSON(creds):
		if !json.Valid([]byte(creds)) {
			return nil, ErrInvalidCredentials
		}
		return append(opts, option.WithCredentialsJSON([]byte(creds))), nil
	default:
		exists, err := afero.Exists(fs, creds)
		if err != nil {
			return nil, fmt.Errorf("check credentials file: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, creds)
		}
		return append(opts, option.WithCredentialsFile(creds)), nil
	}
}

func isInlineJSON(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "{")
}
