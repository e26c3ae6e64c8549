package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"tinadmin.org/internal/obs"
)

// Smoke test against a running API with dev tokens enabled and the demo seed applied.
func main() {
	log := obs.Logger()
	base := strings.TrimRight(os.Getenv("TINADMIN_SMOKE_URL"), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx, c); err != nil {
		log.Fatal("smoke test failed", zap.String("url", base), zap.Error(err))
	}
	log.Info("smoke test passed", zap.String("url", base))
}

func run(ctx context.Context, c *client) error {
	viewer, err := c.token(ctx, "user-demo-viewer")
	if err != nil {
		return err
	}
	admin, err := c.token(ctx, "user-demo-admin")
	if err != nil {
		return err
	}

	var res struct {
		TenantID string `json:"tenant_id"`
		Source   string `json:"source"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/me/tenant", viewer, nil, http.StatusOK, &res); err != nil {
		return err
	}
	if res.TenantID != "tenant-demo" || res.Source != "session" {
		return fmt.Errorf("unexpected resolution %+v", res)
	}

	if err := c.call(ctx, http.MethodDelete, "/v1/workspaces/ws-demo-support", viewer, nil, http.StatusForbidden, nil); err != nil {
		return fmt.Errorf("viewer delete: %w", err)
	}

	var ws struct {
		ID string `json:"id"`
	}
	name := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	if err := c.call(ctx, http.MethodPost, "/v1/workspaces", admin, map[string]any{"name": name}, http.StatusCreated, &ws); err != nil {
		return fmt.Errorf("admin create: %w", err)
	}
	if err := c.call(ctx, http.MethodDelete, "/v1/workspaces/"+ws.ID, admin, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("admin delete: %w", err)
	}

	var trail struct {
		Items []struct {
			Action  string `json:"action"`
			Allowed bool   `json:"allowed"`
		} `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/audit-logs?action=workspace.delete&limit=5", admin, nil, http.StatusOK, &trail); err != nil {
		return fmt.Errorf("audit query: %w", err)
	}
	if len(trail.Items) == 0 {
		return fmt.Errorf("audit trail has no workspace.delete entries")
	}
	return nil
}

type client struct {
	base string
	http *http.Client
}

func (c *client) token(ctx context.Context, userID string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/auth/token", "", map[string]any{"user_id": userID}, http.StatusOK, &out); err != nil {
		return "", fmt.Errorf("token for %s: %w", userID, err)
	}
	return out.Token, nil
}

func (c *client) call(ctx context.Context, method, path, token string, body any, want int, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
