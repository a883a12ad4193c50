package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kimvales/vaultsync/internal/errors"
)

// HTTPConfig holds record-store connection configuration.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPRecordStore implements RecordStore against a REST record-store API.
type HTTPRecordStore struct {
	config     *HTTPConfig
	httpClient *http.Client
}

// NewHTTPRecordStore creates a new HTTPRecordStore.
func NewHTTPRecordStore(config *HTTPConfig) *HTTPRecordStore {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPRecordStore{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

type countResponse struct {
	Count int `json:"count"`
}

type statusRequest struct {
	State SyncState `json:"state"`
	Meta  Meta      `json:"meta"`
}

// RecordCount returns the number of records stored under the scope.
func (c *HTTPRecordStore) RecordCount(ctx context.Context, scope string) (int, error) {
	path := fmt.Sprintf("/scopes/%s/count", url.PathEscape(scope))

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStoreUnreachable, "record count request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Scope not yet created, nothing stored.
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, errors.Newf(errors.ErrWriteFailed,
			"record count failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out countResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(errors.ErrWriteFailed, "failed to decode count response", err)
	}

	return out.Count, nil
}

// SetStatus upserts the vectorization status for a document identity.
func (c *HTTPRecordStore) SetStatus(ctx context.Context, id string, state SyncState, meta Meta) error {
	payload, err := json.Marshal(statusRequest{State: state, Meta: meta})
	if err != nil {
		return errors.Wrap(errors.ErrWriteFailed, "failed to encode status request", err)
	}

	path := fmt.Sprintf("/records/%s/status", url.PathEscape(id))

	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrStoreUnreachable, "status request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return errors.Newf(errors.ErrWriteFailed,
			"status update failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Delete removes all records for a document identity. Deleting an absent
// identity is not an error.
func (c *HTTPRecordStore) Delete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/records/%s", url.PathEscape(id))

	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrStoreUnreachable, "delete request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return errors.Newf(errors.ErrWriteFailed,
			"delete failed with status %d: %s", resp.StatusCode, string(body))
	}
}

func (c *HTTPRecordStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to create request", err)
	}

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	return req, nil
}
