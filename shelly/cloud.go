// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package shelly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrCloudRejected = errors.New("shelly cloud rejected the request")
	ErrTokenRefresh  = errors.New("failed to refresh shelly token")
)

// Tokens is an OAuth token pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// CloudClient talks to the Shelly cloud HTTP API.
type CloudClient struct {
	http *http.Client
}

func NewCloudClient(client *http.Client) *CloudClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CloudClient{http: client}
}

// normalizeHost makes sure apiHost carries a scheme.
func normalizeHost(apiHost string) string {
	apiHost = strings.TrimRight(apiHost, "/")
	if !strings.HasPrefix(apiHost, "http://") && !strings.HasPrefix(apiHost, "https://") {
		apiHost = "https://" + apiHost
	}
	return apiHost
}

// postForm posts a form to the device API and decodes the JSON reply.
func (c *CloudClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrCloudRejected, endpoint, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid response from %s: %w", endpoint, err)
	}
	return nil
}

// RefreshToken exchanges a refresh token for a new token pair using the
// OAuth refresh grant at {apiHost}/oauth/auth.
func (c *CloudClient) RefreshToken(ctx context.Context, apiHost, refreshToken string) (Tokens, error) {
	cfg := oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  normalizeHost(apiHost) + "/oauth/auth",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	if tok.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: empty access token", ErrTokenRefresh)
	}
	tokens := Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if tokens.RefreshToken == "" {
		// Some hosts keep the refresh token stable
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

type deviceStatusResponse struct {
	IsOK bool `json:"isok"`
	Data struct {
		Online       bool            `json:"online"`
		DeviceStatus json.RawMessage `json:"device_status"`
	} `json:"data"`
}

// DeviceStatus fetches the current state of one device by cloud ID.
func (c *CloudClient) DeviceStatus(ctx context.Context, apiHost, token, cloudID string) (Status, error) {
	form := url.Values{}
	form.Set("id", cloudID)
	form.Set("auth_key", token)

	var resp deviceStatusResponse
	if err := c.postForm(ctx, normalizeHost(apiHost)+"/device/status", form, &resp); err != nil {
		return Status{}, err
	}
	if !resp.IsOK {
		return Status{}, fmt.Errorf("%w: device %s status", ErrCloudRejected, cloudID)
	}
	if !resp.Data.Online || len(resp.Data.DeviceStatus) == 0 {
		return Status{Online: false}, nil
	}

	_, st, err := ParseStatus(resp.Data.DeviceStatus)
	if err != nil {
		return Status{}, err
	}
	return st, nil
}
