package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ctc-stipend/stipend/internal/grants"
)

// Sender dispatches agreements to the signing service.
type Sender interface {
	Send(ctx context.Context, doc Document, parties []grants.SignerParty) (string, error)
	Void(ctx context.Context, envelopeID, reason string) error
}

// Client wraps interactions with the e-signature API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks if the remote signing service is available.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("signing service returned status %d", resp.StatusCode)
	}
	return nil
}

type sendRequest struct {
	Document Document             `json:"document"`
	Signers  []grants.SignerParty `json:"signers"`
}

type sendResponse struct {
	EnvelopeID string `json:"envelope_id"`
}

// Send creates an envelope and returns its id.
func (c *Client) Send(ctx context.Context, doc Document, parties []grants.SignerParty) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/envelopes", sendRequest{Document: doc, Signers: parties})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("send envelope failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode envelope response: %w", err)
	}
	if out.EnvelopeID == "" {
		return "", fmt.Errorf("signing service returned empty envelope id")
	}
	return out.EnvelopeID, nil
}

// Void cancels an outstanding envelope.
func (c *Client) Void(ctx context.Context, envelopeID, reason string) error {
	resp, err := c.do(ctx, http.MethodPost, "/envelopes/"+envelopeID+"/void", map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("void envelope failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}
