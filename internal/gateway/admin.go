package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type adminClient struct {
	http           *http.Client
	endpoint       string
	token          string
	controlPlaneID string
}

type factory struct {
	timeout time.Duration
}

// NewFactory builds admin API clients sharing one request timeout.
func NewFactory(timeout time.Duration) Factory {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &factory{timeout: timeout}
}

func (f *factory) Client(params ConnectionParams) Client {
	return &adminClient{
		http:           &http.Client{Timeout: f.timeout},
		endpoint:       strings.TrimRight(params.Endpoint, "/"),
		token:          params.Token,
		controlPlaneID: strings.TrimSpace(params.ControlPlaneID),
	}
}

// basePath scopes core entities under the control plane for the cloud
// variant; the self-managed admin API serves them at the root.
func (c *adminClient) basePath() string {
	if c.controlPlaneID == "" {
		return c.endpoint
	}
	return fmt.Sprintf("%s/v2/control-planes/%s/core-entities", c.endpoint, url.PathEscape(c.controlPlaneID))
}

func (c *adminClient) TestConnection(ctx context.Context) error {
	var probe struct {
		Data []json.RawMessage `json:"data"`
	}
	return c.get(ctx, c.basePath()+"/services?size=1", &probe)
}

func (c *adminClient) FetchServices(ctx context.Context) ([]Service, error) {
	var out []Service
	err := c.fetchAll(ctx, c.basePath()+"/services", func(raw json.RawMessage) error {
		var svc Service
		if err := json.Unmarshal(raw, &svc); err != nil {
			return err
		}
		out = append(out, svc)
		return nil
	})
	return out, err
}

type routeWire struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Paths     []string `json:"paths"`
	Methods   []string `json:"methods"`
	Hosts     []string `json:"hosts"`
	Protocols []string `json:"protocols"`
	Service   *struct {
		ID string `json:"id"`
	} `json:"service"`
}

func (c *adminClient) FetchRoutes(ctx context.Context) ([]Route, error) {
	var out []Route
	err := c.fetchAll(ctx, c.basePath()+"/routes", func(raw json.RawMessage) error {
		var wire routeWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		route := Route{
			ID:        wire.ID,
			Name:      wire.Name,
			Paths:     wire.Paths,
			Methods:   wire.Methods,
			Hosts:     wire.Hosts,
			Protocols: wire.Protocols,
		}
		if wire.Service != nil {
			route.ServiceID = wire.Service.ID
		}
		out = append(out, route)
		return nil
	})
	return out, err
}

func (c *adminClient) FetchConsumers(ctx context.Context) ([]Consumer, error) {
	var out []Consumer
	err := c.fetchAll(ctx, c.basePath()+"/consumers", func(raw json.RawMessage) error {
		var consumer Consumer
		if err := json.Unmarshal(raw, &consumer); err != nil {
			return err
		}
		out = append(out, consumer)
		return nil
	})
	return out, err
}

func (c *adminClient) PushPluginConfig(ctx context.Context, cfg PluginConfig) error {
	body := map[string]any{
		"name":    cfg.Name,
		"enabled": cfg.Enabled,
	}
	switch {
	case cfg.RateLimits != nil:
		body["config"] = cfg.RateLimits
	case cfg.Termination != nil:
		body["config"] = cfg.Termination
	}

	target := c.basePath() + "/plugins"
	switch {
	case cfg.ConsumerID != "":
		target = fmt.Sprintf("%s/consumers/%s/plugins", c.basePath(), url.PathEscape(cfg.ConsumerID))
	case cfg.ConsumerGroup != "":
		target = fmt.Sprintf("%s/consumer_groups/%s/plugins", c.basePath(), url.PathEscape(cfg.ConsumerGroup))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, target, payload, nil)
}

type listPage struct {
	Data   []json.RawMessage `json:"data"`
	Offset string            `json:"offset"`
}

func (c *adminClient) fetchAll(ctx context.Context, target string, each func(json.RawMessage) error) error {
	offset := ""
	for {
		pageURL := target
		if offset != "" {
			pageURL = fmt.Sprintf("%s?offset=%s", target, url.QueryEscape(offset))
		}

		var page listPage
		if err := c.get(ctx, pageURL, &page); err != nil {
			return err
		}
		for _, raw := range page.Data {
			if err := each(raw); err != nil {
				return err
			}
		}
		if page.Offset == "" {
			return nil
		}
		offset = page.Offset
	}
}

func (c *adminClient) get(ctx context.Context, target string, out any) error {
	return c.do(ctx, http.MethodGet, target, nil, out)
}

func (c *adminClient) do(ctx context.Context, method, target string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		// Self-managed deployments commonly gate the admin API behind
		// the key-auth plugin instead of bearer tokens.
		req.Header.Set("Kong-Admin-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Join(ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
