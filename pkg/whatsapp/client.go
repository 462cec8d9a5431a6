package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"wadispatch/pkg/whatsapp/types"
)

// ClientConfig holds the Cloud API coordinates of one sending phone number.
type ClientConfig struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// WhatsAppClient talks to the WhatsApp Cloud API.
type WhatsAppClient struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	client        *http.Client
	logger        *logrus.Logger
}

var _ types.Client = (*WhatsAppClient)(nil)

func NewClient(cfg ClientConfig, httpClient *http.Client, logger *logrus.Logger) *WhatsAppClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = types.DefaultHTTPTimeoutSec * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &WhatsAppClient{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		apiVersion:    strings.Trim(cfg.APIVersion, "/"),
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		client:        httpClient,
		logger:        logger,
	}
}

func (c *WhatsAppClient) nodeURL(suffix string) string {
	return fmt.Sprintf("%s/%s/%s%s", c.baseURL, c.apiVersion, c.phoneNumberID, suffix)
}

func buildRequest(msg types.OutboundMessage) (*types.SendMessageRequest, error) {
	req := &types.SendMessageRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    types.RecipientIndividual,
		To:               strings.TrimPrefix(msg.To, "+"),
		Type:             msg.Kind,
	}

	switch msg.Kind {
	case types.KindText, "":
		req.Type = types.KindText
		req.Text = &types.TextBody{Body: msg.Content}
	case types.KindImage:
		req.Image = &types.MediaObject{Link: msg.Content}
	case types.KindDocument:
		req.Document = &types.MediaObject{Link: msg.Content}
	case types.KindAudio:
		req.Audio = &types.MediaObject{Link: msg.Content}
	default:
		return nil, types.NewPermanent(fmt.Sprintf("unsupported message type: %s", msg.Kind), nil)
	}
	return req, nil
}

// Send posts one message. A nil error means the gateway acknowledged it;
// any failure is a *types.DeliveryError.
func (c *WhatsAppClient) Send(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	payload, err := buildRequest(msg)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewPermanent("failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL(types.EndpointMessages), bytes.NewReader(jsonData))
	if err != nil {
		return nil, types.NewPermanent("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, types.MaxResponseBodyBytes))
	if err != nil {
		return nil, types.NewTransient("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		de := apiError(resp.StatusCode, body)
		c.logger.WithFields(logrus.Fields{
			"status_code": de.StatusCode,
			"api_code":    de.Code,
			"kind":        de.Kind.String(),
		}).Debug("Gateway rejected message")
		return nil, de
	}

	var result types.SendMessageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, types.NewTransient("failed to decode response", err)
	}
	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return nil, types.NewTransient("response carried no message id", nil)
	}

	out := &types.SendResult{ProviderMessageID: result.Messages[0].ID}
	if len(result.Contacts) > 0 {
		out.WaID = result.Contacts[0].WaID
	}
	return out, nil
}

// CheckCredentials confirms the access token can read the phone-number node.
func (c *WhatsAppClient) CheckCredentials(ctx context.Context) error {
	resp, body, err := c.get(ctx, c.nodeURL("")+"?fields="+url.QueryEscape(types.FieldsCredential), true)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}
	return nil
}

// Ping checks that the API host answers. Any status below 500 counts.
func (c *WhatsAppClient) Ping(ctx context.Context) error {
	resp, _, err := c.get(ctx, c.baseURL+"/", false)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return &types.DeliveryError{Kind: types.Transient, StatusCode: resp.StatusCode, Reason: "gateway unavailable"}
	}
	return nil
}

// SenderProfile fetches the verified name and quality rating of the
// sending number.
func (c *WhatsAppClient) SenderProfile(ctx context.Context) (*types.PhoneNumberProfile, error) {
	resp, body, err := c.get(ctx, c.nodeURL("")+"?fields="+url.QueryEscape(types.FieldsProfile), true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, body)
	}

	var profile types.PhoneNumberProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode phone number profile: %w", err)
	}
	return &profile, nil
}

func (c *WhatsAppClient) get(ctx context.Context, endpoint string, auth bool) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if auth {
		c.authorize(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, types.MaxResponseBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, body, nil
}

func (c *WhatsAppClient) authorize(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

func apiError(statusCode int, body []byte) *types.DeliveryError {
	var apiErr types.APIErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	reason := apiErr.Error.Message
	if reason == "" {
		reason = http.StatusText(statusCode)
	}
	reason = truncateUTF8(reason, types.MaxErrorBodyBytes)

	return &types.DeliveryError{
		Kind:       types.ClassifyHTTP(statusCode, apiErr.Error.Code),
		StatusCode: statusCode,
		Code:       apiErr.Error.Code,
		Reason:     reason,
	}
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func transportError(ctx context.Context, err error) *types.DeliveryError {
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return types.NewTransient("gateway request timed out", err)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return types.NewTransient("gateway request timed out", err)
	case stderrors.Is(err, context.Canceled):
		return types.NewTransient("gateway request cancelled", err)
	default:
		return types.NewTransient("gateway unreachable", err)
	}
}
