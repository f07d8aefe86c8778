/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog is the client for the upstream Jellyfin-compatible media
// catalog: account and collection discovery, random item selection, and raw
// media download with a decoder hint.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client talks to one catalog server with a fixed API token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// User is a catalog account.
type User struct {
	Name   string     `json:"Name"`
	ID     string     `json:"Id"`
	Policy UserPolicy `json:"Policy"`
}

// UserPolicy carries the subset of account policy the engine cares about.
type UserPolicy struct {
	IsAdministrator bool `json:"IsAdministrator"`
}

// Collection is a browsable media view of an account.
type Collection struct {
	Name           string `json:"Name"`
	ID             string `json:"Id"`
	CollectionType string `json:"CollectionType"`
}

// Item is one playable audio entry.
type Item struct {
	ID      string   `json:"Id"`
	Name    string   `json:"Name"`
	Artists []string `json:"Artists"`
}

// Artist returns the joined artist list for logging.
func (i Item) Artist() string {
	return strings.Join(i.Artists, ",")
}

// New creates a catalog client. Outbound requests carry OpenTelemetry spans.
func New(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   60 * time.Second,
		},
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("MediaBrowser Token=%q", c.token))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("catalog request %s: unexpected status %s", path, resp.Status)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

// Users lists all catalog accounts.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.getJSON(ctx, "/Users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AdminUser returns the first administrator-capable account.
func (c *Client) AdminUser(ctx context.Context) (User, error) {
	users, err := c.Users(ctx)
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.Policy.IsAdministrator {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("no administrator account found")
}

// Views lists the browsable collections of an account.
func (c *Client) Views(ctx context.Context, userID string) ([]Collection, error) {
	var list struct {
		Items []Collection `json:"Items"`
	}
	if err := c.getJSON(ctx, "/Users/"+url.PathEscape(userID)+"/Views", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// FindCollection resolves a collection by name for an account.
func (c *Client) FindCollection(ctx context.Context, userID, name string) (Collection, error) {
	views, err := c.Views(ctx, userID)
	if err != nil {
		return Collection{}, err
	}
	for _, v := range views {
		if v.Name == name {
			return v, nil
		}
	}
	return Collection{}, fmt.Errorf("collection %q not found", name)
}

// RandomItem fetches one random playable audio item of a collection,
// excluding virtual placeholders and without collapsing box sets.
func (c *Client) RandomItem(ctx context.Context, userID, collectionID string) (Item, error) {
	query := url.Values{
		"ParentId":             {collectionID},
		"Filters":              {"IsNotFolder"},
		"Recursive":            {"true"},
		"SortBy":               {"Random"},
		"MediaTypes":           {"Audio"},
		"Limit":                {"1"},
		"ExcludeLocationTypes": {"Virtual"},
		"CollapseBoxSetItems":  {"false"},
	}
	var list struct {
		Items []Item `json:"Items"`
	}
	if err := c.getJSON(ctx, "/Users/"+url.PathEscape(userID)+"/Items", query, &list); err != nil {
		return Item{}, err
	}
	if len(list.Items) == 0 {
		return Item{}, fmt.Errorf("no playable item in collection")
	}
	return list.Items[0], nil
}

// Download fetches the raw bytes of an item together with an extension hint
// ("mp3", "flac", …) parsed from the Content-Disposition filename, empty
// when the server sent none.
func (c *Client) Download(ctx context.Context, itemID string) ([]byte, string, error) {
	resp, err := c.get(ctx, "/Items/"+url.PathEscape(itemID)+"/Download", nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	hint := extensionHint(resp.Header.Get("Content-Disposition"))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read item body: %w", err)
	}
	return body, hint, nil
}

// extensionHint extracts a lowercase filename extension from a
// Content-Disposition header value.
func extensionHint(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	filename := params["filename"]
	if filename == "" {
		return ""
	}
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	return strings.ToLower(ext)
}
