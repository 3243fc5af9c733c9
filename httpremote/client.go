// Package httpremote implements the offsync remote backend contract over a
// per-entity REST API with bearer-token authentication.
//
// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rlazarev/go-offsync/offsync"
)

// TokenFunc returns the bearer token to authenticate a request with.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote backend over HTTP. It implements offsync.Remote.
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
	logger  *slog.Logger
}

// New creates an HTTP remote client for the given base URL.
func New(baseURL string, token TokenFunc) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
}

var _ offsync.Remote = (*Client)(nil)

// wireRecord is one record as serialized by the backend.
type wireRecord struct {
	ID        string           `json:"id"`
	UUID      string           `json:"uuid"`
	Fields    offsync.FieldMap `json:"fields"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
	DeletedAt *string          `json:"deleted_at,omitempty"`
}

type listResponse struct {
	Records []wireRecord `json:"records"`
}

type createResponse struct {
	ID string `json:"id"`
}

// Create pushes a new record and returns the backend-assigned identifier.
func (c *Client) Create(ctx context.Context, entity string, payload offsync.Payload) (string, error) {
	body, err := c.do(ctx, http.MethodPost, c.entityURL(entity, ""), payload, entity, "create")
	if err != nil {
		return "", err
	}
	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &offsync.RemoteCallError{Entity: entity, Op: "create", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if resp.ID == "" {
		return "", &offsync.RemoteCallError{Entity: entity, Op: "create", Err: fmt.Errorf("backend returned no id")}
	}
	return resp.ID, nil
}

// Update overwrites the record with the given remote id.
func (c *Client) Update(ctx context.Context, entity, remoteID string, payload offsync.Payload) error {
	_, err := c.do(ctx, http.MethodPut, c.entityURL(entity, remoteID), payload, entity, "update")
	return err
}

// SoftDelete stamps the remote tombstone on the record.
func (c *Client) SoftDelete(ctx context.Context, entity, remoteID string, deletedAt time.Time) error {
	req := map[string]string{"deleted_at": deletedAt.UTC().Format(time.RFC3339Nano)}
	_, err := c.do(ctx, http.MethodDelete, c.entityURL(entity, remoteID), req, entity, "soft-delete")
	return err
}

// List returns all records of the entity type, tombstoned included, ordered
// by remote update time ascending.
func (c *Client) List(ctx context.Context, entity string) ([]offsync.RemoteRecord, error) {
	u := c.entityURL(entity, "") + "?" + url.Values{
		"order_by":        {"updated_at"},
		"include_deleted": {"true"},
	}.Encode()
	body, err := c.do(ctx, http.MethodGet, u, nil, entity, "list")
	if err != nil {
		return nil, err
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &offsync.RemoteCallError{Entity: entity, Op: "list", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	out := make([]offsync.RemoteRecord, 0, len(resp.Records))
	for _, wr := range resp.Records {
		rr, err := wr.toRemoteRecord()
		if err != nil {
			return nil, &offsync.RemoteCallError{Entity: entity, Op: "list", Err: err}
		}
		out = append(out, rr)
	}
	return out, nil
}

func (wr wireRecord) toRemoteRecord() (offsync.RemoteRecord, error) {
	rr := offsync.RemoteRecord{
		RemoteID: wr.ID,
		UUID:     wr.UUID,
		Fields:   wr.Fields,
	}
	var err error
	if wr.CreatedAt != "" {
		if rr.CreatedAt, err = parseWireTime(wr.CreatedAt); err != nil {
			return offsync.RemoteRecord{}, err
		}
	}
	if rr.UpdatedAt, err = parseWireTime(wr.UpdatedAt); err != nil {
		return offsync.RemoteRecord{}, err
	}
	if wr.DeletedAt != nil {
		t, err := parseWireTime(*wr.DeletedAt)
		if err != nil {
			return offsync.RemoteRecord{}, err
		}
		rr.DeletedAt = &t
	}
	return rr, nil
}

func parseWireTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func (c *Client) entityURL(entity, remoteID string) string {
	if remoteID == "" {
		return fmt.Sprintf("%s/%s", c.BaseURL, url.PathEscape(entity))
	}
	return fmt.Sprintf("%s/%s/%s", c.BaseURL, url.PathEscape(entity), url.PathEscape(remoteID))
}

func (c *Client) do(ctx context.Context, method, u string, payload any, entity, op string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &offsync.RemoteCallError{Entity: entity, Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &offsync.RemoteCallError{Entity: entity, Op: op, Err: err}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, &offsync.RemoteCallError{Entity: entity, Op: op, Err: fmt.Errorf("failed to get token: %w", err)}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &offsync.RemoteCallError{Entity: entity, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &offsync.RemoteCallError{Entity: entity, Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &offsync.RemoteCallError{
			Entity: entity, Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}
	return data, nil
}
