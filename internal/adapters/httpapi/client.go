package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bnema/gemini-pool/internal/domain"
)

// ManagementClient talks to the management routes of a running gateway.
type ManagementClient struct {
	baseURL string
	http    *http.Client
}

func NewManagementClient(baseURL string, client *http.Client) *ManagementClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ManagementClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *ManagementClient) Accounts(ctx context.Context) ([]domain.AccountStatus, error) {
	var out accountsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/management/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// Unfreeze returns the gateway's confirmation message. An unknown account
// yields domain.ErrAccountNotFound.
func (c *ManagementClient) Unfreeze(ctx context.Context, account string) (string, error) {
	body, err := json.Marshal(unfreezeRequest{Account: account})
	if err != nil {
		return "", err
	}

	var out messageBody
	if err := c.do(ctx, http.MethodPost, "/v1/management/unfreeze", body, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *ManagementClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create management request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("read management response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorBody
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		if resp.StatusCode == http.StatusNotFound && apiErr.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, message)
		}
		return errors.New(message)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode management response: %w", err)
	}
	return nil
}
