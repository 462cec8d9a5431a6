package security

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative path", "data/wadispatch.db", false},
		{"absolute path", "/var/lib/wadispatch/queue.db", false},
		{"empty path", "", true},
		{"traversal", "../../etc/passwd", true},
		{"embedded traversal", "data/../../secret.db", true},
		{"nul byte", "data\x00.db", true},
		{"dots in name", "data/queue..db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"yaml", "config/wadispatch.yaml", ""},
		{"upper case yml", "WADISPATCH.YML", ""},
		{"json", "/etc/wadispatch/config.json", ""},
		{"toml", "wadispatch.toml", ""},
		{"no extension", "config", "unsupported config file type"},
		{"ini", "wadispatch.ini", "unsupported config file type"},
		{"traversal wins", "../wadispatch.yaml", "directory traversal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfigPath(tt.path)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestVerifySignature(t *testing.T) {
	const secret = "app-secret"
	body := `{"object":"whatsapp_business_account"}`

	tests := []struct {
		name    string
		secret  string
		header  string
		wantErr string
	}{
		{"valid signature", secret, "sha256=" + Sign([]byte(body), secret), ""},
		{"uppercase hex accepted", secret, "sha256=" + strings.ToUpper(Sign([]byte(body), secret)), ""},
		{"no secret skips check", "", "", ""},
		{"missing header", secret, "", "missing signature header"},
		{"wrong scheme", secret, "sha1=abc", "invalid signature format"},
		{"mismatch", secret, "sha256=deadbeef", "signature mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/webhooks/whatsapp", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(SignatureHeader, tt.header)
			}

			got, err := VerifySignature(req, tt.secret)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, string(got))

			again, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, body, string(again))
		})
	}
}
