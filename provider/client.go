package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultTokenMargin = 30 * time.Second

// Options provides initialization parameters for Client
type Options struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
	APIUser      string
	APIPassword  string

	TokenCache *TokenCache
	Logger     *zap.Logger

	// Clock is injectable for deterministic token expiry tests; defaults to time.Now
	Clock func() time.Time
	// HTTPClient defaults to a client with a 30s timeout
	HTTPClient *http.Client
	// TokenMargin is subtracted from the token expiry when deciding reuse
	TokenMargin time.Duration
}

// Client is the authenticated HTTP client to the compute provider
type Client struct {
	Options
}

// NewClient validates the options and returns a provider Client
func NewClient(option Options) (*Client, error) {
	if option.BaseURL == "" {
		return nil, fmt.Errorf("empty BaseURL is invalid")
	}
	if option.AuthURL == "" {
		return nil, fmt.Errorf("empty AuthURL is invalid")
	}
	if option.TokenCache == nil {
		return nil, fmt.Errorf("nil TokenCache is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	if option.HTTPClient == nil {
		option.HTTPClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	if option.TokenMargin == 0 {
		option.TokenMargin = defaultTokenMargin
	}
	return &Client{
		Options: option,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// getToken reuses the cached token when still valid, otherwise performs a
// fresh OAuth2 password-grant exchange
func (c *Client) getToken(ctx context.Context) (string, error) {
	now := c.Clock()
	if token, ok := c.TokenCache.get(now, c.TokenMargin); ok {
		return token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("username", c.APIUser)
	form.Set("password", c.APIPassword)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot exchange credentials for token")
	}
	defer res.Body.Close()

	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot read token response")
	}
	if res.StatusCode != http.StatusOK {
		return "", &UpstreamError{
			StatusCode: res.StatusCode,
			Message:    upstreamMessage(resBody),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(resBody, &tr); err != nil {
		return "", extErrors.Wrap(err, "Cannot decode token response")
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response contains no access_token")
	}

	c.TokenCache.set(tr.AccessToken, now.Add(time.Duration(tr.ExpiresIn)*time.Second))
	return tr.AccessToken, nil
}

// do performs an authenticated request against the provider API. On the
// first 401 the cached token is invalidated and the call retried once with a
// fresh token; a second 401 surfaces as a hard failure.
func (c *Client) do(ctx context.Context, method, path string, reqBody interface{}, out interface{}) error {
	var encoded []byte
	if reqBody != nil {
		var err error
		encoded, err = json.Marshal(reqBody)
		if err != nil {
			return extErrors.Wrap(err, "Cannot encode request body")
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.getToken(ctx)
		if err != nil {
			return err
		}

		var body *bytes.Reader
		if encoded != nil {
			body = bytes.NewReader(encoded)
		} else {
			body = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
		if err != nil {
			return extErrors.Wrap(err, "Cannot build request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("x-request-id", uuid.New().String())
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.HTTPClient.Do(req)
		if err != nil {
			return extErrors.Wrap(err, "Cannot reach provider")
		}
		resBody, err := ioutil.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return extErrors.Wrap(err, "Cannot read provider response")
		}

		if res.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.TokenCache.invalidate(token)
			continue
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return &UpstreamError{
				StatusCode: res.StatusCode,
				Message:    upstreamMessage(resBody),
			}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resBody, out); err != nil {
			return extErrors.Wrap(err, "Cannot decode provider response")
		}
		return nil
	}
}

func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}

type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) action(ctx context.Context, instanceID int64, action string) (*ActionResult, error) {
	var result ActionResult
	path := fmt.Sprintf("/v1/compute/instances/%d/actions/%s", instanceID, action)
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartInstance requests the provider to start the instance
func (c *Client) StartInstance(ctx context.Context, instanceID int64) (*ActionResult, error) {
	return c.action(ctx, instanceID, "start")
}

// StopInstance requests the provider to stop the instance
func (c *Client) StopInstance(ctx context.Context, instanceID int64) (*ActionResult, error) {
	return c.action(ctx, instanceID, "stop")
}

// RestartInstance requests the provider to restart the instance
func (c *Client) RestartInstance(ctx context.Context, instanceID int64) (*ActionResult, error) {
	return c.action(ctx, instanceID, "restart")
}

// ShutdownInstance requests an ACPI shutdown of the instance
func (c *Client) ShutdownInstance(ctx context.Context, instanceID int64) (*ActionResult, error) {
	return c.action(ctx, instanceID, "shutdown")
}

// RescueInstance boots the instance into the provider's rescue system
func (c *Client) RescueInstance(ctx context.Context, instanceID int64) (*ActionResult, error) {
	return c.action(ctx, instanceID, "rescue")
}

// ResetPassword asks the provider to generate a new root password for the instance
func (c *Client) ResetPassword(ctx context.Context, instanceID int64) (*PasswordReset, error) {
	var result PasswordReset
	path := fmt.Sprintf("/v1/compute/instances/%d/actions/resetPassword", instanceID)
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListInstances returns all instances visible to the reseller account
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var envelope dataEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/compute/instances", nil, &envelope); err != nil {
		return nil, err
	}
	instances := make([]Instance, 0)
	if err := json.Unmarshal(envelope.Data, &instances); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode instance list")
	}
	return instances, nil
}

// ListImages returns the provider's OS image catalog
func (c *Client) ListImages(ctx context.Context) ([]Image, error) {
	var envelope dataEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/compute/images", nil, &envelope); err != nil {
		return nil, err
	}
	images := make([]Image, 0)
	if err := json.Unmarshal(envelope.Data, &images); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode image list")
	}
	return images, nil
}

// ListSnapshots returns the provider-side snapshots of the instance
func (c *Client) ListSnapshots(ctx context.Context, instanceID int64) ([]Snapshot, error) {
	var envelope dataEnvelope
	path := fmt.Sprintf("/v1/compute/instances/%d/snapshots", instanceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	snapshots := make([]Snapshot, 0)
	if err := json.Unmarshal(envelope.Data, &snapshots); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode snapshot list")
	}
	return snapshots, nil
}

// CreateSnapshot requests a new snapshot of the instance
func (c *Client) CreateSnapshot(ctx context.Context, instanceID int64, name, description string) (*ActionResult, error) {
	var result ActionResult
	path := fmt.Sprintf("/v1/compute/instances/%d/snapshots", instanceID)
	payload := map[string]string{
		"name":        name,
		"description": description,
	}
	if err := c.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteSnapshot removes a provider-side snapshot
func (c *Client) DeleteSnapshot(ctx context.Context, instanceID int64, snapshotID string) error {
	path := fmt.Sprintf("/v1/compute/instances/%d/snapshots/%s", instanceID, snapshotID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
