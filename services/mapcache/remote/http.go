// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// HTTPClient talks JSON to the upstream map data service.
//
// # Description
//
// One instance is safe for concurrent use; it holds only a base URL and
// an http.Client. Response bodies larger than maxResponseBytes are
// rejected to bound memory.
//
// Error mapping: 404 on mutations becomes ErrNotFound, 404 on lookups
// becomes (nil, nil), deadline errors become ErrTimeout, everything
// else transport- or status-shaped becomes ErrNetwork.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// maxResponseBytes caps a single response body (8 MiB).
const maxResponseBytes = 8 << 20

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the upstream root, e.g. "http://mapdata:8080".
	BaseURL string

	// Timeout is the per-request deadline. Default: 10s.
	Timeout time.Duration
}

// NewHTTPClient creates a client for the given upstream.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base URL must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// FetchItemsForCoordinate implements Source.
func (c *HTTPClient) FetchItemsForCoordinate(ctx context.Context, req FetchRequest) ([]tile.Tile, error) {
	q := url.Values{}
	q.Set("center", req.CenterCoordID)
	q.Set("max_depth", strconv.Itoa(req.MaxDepth))
	var out []tile.Tile
	if err := c.do(ctx, http.MethodGet, "/v1/items?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetItemByCoordinate implements Source.
func (c *HTTPClient) GetItemByCoordinate(ctx context.Context, coordID string) (*tile.Tile, error) {
	var out tile.Tile
	err := c.do(ctx, http.MethodGet, "/v1/items/by-coord/"+url.PathEscape(coordID), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRootItemByID implements Source.
func (c *HTTPClient) GetRootItemByID(ctx context.Context, dbID string) (*tile.Tile, error) {
	var out tile.Tile
	err := c.do(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(dbID), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDescendants implements Source.
func (c *HTTPClient) GetDescendants(ctx context.Context, dbID string) ([]tile.Tile, error) {
	var out []tile.Tile
	if err := c.do(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(dbID)+"/descendants", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAncestors implements Source.
func (c *HTTPClient) GetAncestors(ctx context.Context, dbID string) ([]tile.Tile, error) {
	var out []tile.Tile
	if err := c.do(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(dbID)+"/ancestors", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateItem implements Mutator.
func (c *HTTPClient) CreateItem(ctx context.Context, req CreateRequest) (*tile.Tile, error) {
	var out tile.Tile
	if err := c.do(ctx, http.MethodPost, "/v1/items", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItem implements Mutator.
func (c *HTTPClient) UpdateItem(ctx context.Context, coordID string, fields Fields) (*tile.Tile, error) {
	var out tile.Tile
	if err := c.do(ctx, http.MethodPatch, "/v1/items/by-coord/"+url.PathEscape(coordID), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteItem implements Mutator.
func (c *HTTPClient) DeleteItem(ctx context.Context, coordID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/items/by-coord/"+url.PathEscape(coordID), nil, nil)
}

// MoveItem implements Mutator.
func (c *HTTPClient) MoveItem(ctx context.Context, req MoveRequest) (MoveResult, error) {
	var out MoveResult
	if err := c.do(ctx, http.MethodPost, "/v1/items/move", req, &out); err != nil {
		return MoveResult{}, err
	}
	return out, nil
}

// do performs one JSON round trip and maps errors into the package
// taxonomy.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %s %s: %v", ErrTimeout, method, path, err)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s %s: status %d", ErrNetwork, method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
