package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wadispatch/pkg/whatsapp/types"
)

const testPhoneID = "1234567890"

func newTestClient(t *testing.T, handler http.HandlerFunc) *WhatsAppClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewClient(ClientConfig{
		BaseURL:       server.URL,
		APIVersion:    "v21.0",
		PhoneNumberID: testPhoneID,
		AccessToken:   "test-token",
		Timeout:       2 * time.Second,
	}, nil, logger)
}

func writeAPIError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"` + message + `","type":"OAuthException","code":` +
		jsonInt(code) + `}}`))
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestSend_Text(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v21.0/"+testPhoneID+"/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req types.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "whatsapp", req.MessagingProduct)
		assert.Equal(t, "14155550123", req.To)
		assert.Equal(t, types.KindText, req.Type)
		require.NotNil(t, req.Text)
		assert.Equal(t, "Shift reminder", req.Text.Body)
		assert.Nil(t, req.Image)

		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"14155550123","wa_id":"14155550123"}],"messages":[{"id":"wamid.ABC"}]}`))
	})

	result, err := client.Send(context.Background(), types.OutboundMessage{
		To: "+14155550123", Kind: types.KindText, Content: "Shift reminder",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", result.ProviderMessageID)
	assert.Equal(t, "14155550123", result.WaID)
}

func TestSend_MediaUsesLink(t *testing.T) {
	for _, kind := range []types.MessageKind{types.KindImage, types.KindDocument, types.KindAudio} {
		t.Run(string(kind), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var raw map[string]json.RawMessage
				require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
				assert.JSONEq(t, `"`+string(kind)+`"`, string(raw["type"]))
				assert.JSONEq(t, `{"link":"https://cdn.example.com/roster.pdf"}`, string(raw[string(kind)]))
				assert.NotContains(t, raw, "text")
				_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.M"}]}`))
			})

			_, err := client.Send(context.Background(), types.OutboundMessage{
				To: "14155550123", Kind: kind, Content: "https://cdn.example.com/roster.pdf",
			})
			require.NoError(t, err)
		})
	}
}

func TestSend_Classification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		code       int
		expected   types.FailureKind
		expectCode int
	}{
		{"invalid recipient", http.StatusBadRequest, 131026, types.Permanent, 131026},
		{"bad token", http.StatusUnauthorized, 190, types.Permanent, 190},
		{"throughput throttle", http.StatusBadRequest, 130429, types.Transient, 130429},
		{"rate limited", http.StatusTooManyRequests, 0, types.Transient, 0},
		{"server error", http.StatusServiceUnavailable, 0, types.Transient, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tt.status, tt.code, "upstream says no")
			})

			_, err := client.Send(context.Background(), types.OutboundMessage{To: "14155550123", Content: "hi"})
			require.Error(t, err)

			de := types.AsDeliveryError(err)
			assert.Equal(t, tt.expected, de.Kind)
			assert.Equal(t, tt.status, de.StatusCode)
			assert.Equal(t, tt.expectCode, de.Code)
			assert.Equal(t, "upstream says no", de.Reason)
		})
	}
}

func TestSend_LongReasonKeepsValidUTF8(t *testing.T) {
	// One ASCII byte shifts every two-byte rune off the truncation boundary.
	long := "x" + strings.Repeat("é", types.MaxErrorBodyBytes)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusBadRequest, 131026, long)
	})

	_, err := client.Send(context.Background(), types.OutboundMessage{To: "14155550123", Content: "hi"})
	require.Error(t, err)

	de := types.AsDeliveryError(err)
	assert.True(t, utf8.ValidString(de.Reason))
	assert.LessOrEqual(t, len(de.Reason), types.MaxErrorBodyBytes)
	assert.Greater(t, len(de.Reason), types.MaxErrorBodyBytes-utf8.UTFMax)
	assert.True(t, strings.HasPrefix(long, de.Reason))
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本", 4, "日"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateUTF8(tt.in, tt.max), "truncateUTF8(%q, %d)", tt.in, tt.max)
	}
}

func TestSend_UndecodableSuccessIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.Send(context.Background(), types.OutboundMessage{To: "14155550123", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.Transient, types.AsDeliveryError(err).Kind)
}

func TestSend_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, types.OutboundMessage{To: "14155550123", Content: "hi"})
	require.Error(t, err)
	de := types.AsDeliveryError(err)
	assert.Equal(t, types.Transient, de.Kind)
	assert.Equal(t, "gateway request timed out", de.Reason)
}

func TestSend_UnreachableIsTransient(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", APIVersion: "v21.0", PhoneNumberID: testPhoneID}, nil, nil)

	_, err := client.Send(context.Background(), types.OutboundMessage{To: "14155550123", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.Transient, types.AsDeliveryError(err).Kind)
}

func TestSend_UnsupportedKindIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.Send(context.Background(), types.OutboundMessage{To: "14155550123", Kind: "sticker", Content: "x"})
	require.Error(t, err)
	assert.True(t, types.AsDeliveryError(err).Permanent())
}

func TestHealthProbes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Query().Get("fields") == types.FieldsCredential:
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"id":"` + testPhoneID + `"}`))
		case r.URL.Query().Get("fields") == types.FieldsProfile:
			_, _ = w.Write([]byte(`{"id":"` + testPhoneID + `","verified_name":"Acme Staffing","quality_rating":"GREEN","display_phone_number":"+1 415-555-0100"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	ctx := context.Background()
	assert.NoError(t, client.CheckCredentials(ctx))
	assert.NoError(t, client.Ping(ctx))

	profile, err := client.SenderProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme Staffing", profile.VerifiedName)
	assert.Equal(t, "GREEN", profile.QualityRating)
}

func TestHealthProbes_Failures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeAPIError(w, http.StatusUnauthorized, 190, "Invalid OAuth access token")
	})

	ctx := context.Background()
	err := client.CheckCredentials(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid OAuth access token")

	assert.Error(t, client.Ping(ctx))

	_, err = client.SenderProfile(ctx)
	assert.Error(t, err)
}
