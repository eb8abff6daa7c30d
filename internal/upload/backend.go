// Package upload pushes session data to the study backend. Every call is best
// effort: failures are logged and contained here, never surfaced to the flow.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Backend is the narrow persistence interface the Gateway drives.
type Backend interface {
	// CreateParticipant inserts a participant row and returns its id.
	CreateParticipant(ctx context.Context, row ParticipantRow) (string, error)

	// PatchParticipant updates columns of an existing participant row.
	PatchParticipant(ctx context.Context, id string, patch any) error

	// Insert posts one row or a slice of rows into table.
	Insert(ctx context.Context, table string, rows any) error
}

// RESTBackend talks to a PostgREST-compatible endpoint (e.g. Supabase).
type RESTBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTBackend creates a backend rooted at baseURL (without /rest/v1).
func NewRESTBackend(baseURL, apiKey string, timeout time.Duration) *RESTBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RESTBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *RESTBackend) CreateParticipant(ctx context.Context, row ParticipantRow) (string, error) {
	resp, err := b.do(ctx, http.MethodPost, "/rest/v1/participants", row)
	if err != nil {
		return "", fmt.Errorf("create participant: %w", err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var created []map[string]any
	if err := dec.Decode(&created); err != nil {
		return "", fmt.Errorf("create participant: decode response: %w", err)
	}
	if len(created) == 0 || created[0]["id"] == nil {
		return "", fmt.Errorf("create participant: no id returned")
	}
	return fmt.Sprint(created[0]["id"]), nil
}

func (b *RESTBackend) PatchParticipant(ctx context.Context, id string, patch any) error {
	path := "/rest/v1/participants?id=eq." + url.QueryEscape(id)
	resp, err := b.do(ctx, http.MethodPatch, path, patch)
	if err != nil {
		return fmt.Errorf("patch participant: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (b *RESTBackend) Insert(ctx context.Context, table string, rows any) error {
	resp, err := b.do(ctx, http.MethodPost, "/rest/v1/"+table, rows)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	resp.Body.Close()
	return nil
}

// do sends body as JSON and returns the response for any 2xx status.
func (b *RESTBackend) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if b.apiKey != "" {
		req.Header.Set("apikey", b.apiKey)
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
