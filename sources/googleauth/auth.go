// Package googleauth builds authenticated, rate-limited access to the Sheets
// and Drive APIs shared by the spreadsheet source and the Drive resume backend.
package googleauth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/teranos/intake/errors"
)

// Scopes requested for every token. Both APIs are read-only for intake.
var Scopes = []string{
	sheets.SpreadsheetsReadonlyScope,
	drive.DriveReadonlyScope,
}

// TokenSource loads credentials from a JSON file. Service-account and
// authorized-user files are used directly; an OAuth client file ("installed"
// or "web") needs a previously saved token next to it at <file>.token.json.
func TokenSource(ctx context.Context, credentialsFile string) (oauth2.TokenSource, error) {
	if credentialsFile == "" {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrServiceUnavailable, "Google credentials not configured"),
			"set google.credentials_file in am.toml or GOOGLE_APPLICATION_CREDENTIALS")
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Google credentials %s", credentialsFile)
	}

	var kind struct {
		Type      string          `json:"type"`
		Installed json.RawMessage `json:"installed"`
		Web       json.RawMessage `json:"web"`
	}
	if err := json.Unmarshal(b, &kind); err != nil {
		return nil, errors.Wrapf(err, "malformed Google credentials %s", credentialsFile)
	}

	if kind.Installed != nil || kind.Web != nil {
		config, err := google.ConfigFromJSON(b, Scopes...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse OAuth client config")
		}
		tok, err := tokenFromFile(tokenPath(credentialsFile))
		if err != nil {
			return nil, errors.WithHint(err, "authorize once with the Google consent flow and save the token beside the client file")
		}
		return config.TokenSource(ctx, tok), nil
	}

	creds, err := google.CredentialsFromJSON(ctx, b, Scopes...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s credentials", kind.Type)
	}
	return creds.TokenSource, nil
}

func tokenPath(credentialsFile string) string {
	ext := filepath.Ext(credentialsFile)
	return strings.TrimSuffix(credentialsFile, ext) + ".token.json"
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "no saved OAuth token at %s", path)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, errors.Wrapf(err, "malformed OAuth token %s", path)
	}
	return tok, nil
}

// ClientOptions returns the options for a Google API service
func ClientOptions(ctx context.Context, credentialsFile string) ([]option.ClientOption, error) {
	ts, err := TokenSource(ctx, credentialsFile)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}

// NewSheetsService creates a Sheets API service
func NewSheetsService(ctx context.Context, opts ...option.ClientOption) (*sheets.Service, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Sheets service")
	}
	return srv, nil
}

// NewDriveService creates a Drive API service
func NewDriveService(ctx context.Context, opts ...option.ClientOption) (*drive.Service, error) {
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Drive service")
	}
	return srv, nil
}
