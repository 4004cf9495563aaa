// Package gateway talks to Kong-compatible control planes.
//
// Remote payloads are parsed once at this boundary into typed records;
// nothing downstream inspects loose JSON maps.
package gateway

// Service is a catalog service as known to the control plane.
type Service struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Path     string `json:"path"`
	Enabled  bool   `json:"enabled"`
}

// Route is a catalog route. ServiceID references the parent service's
// remote ID.
type Route struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ServiceID string   `json:"-"`
	Paths     []string `json:"paths"`
	Methods   []string `json:"methods"`
	Hosts     []string `json:"hosts"`
	Protocols []string `json:"protocols"`
}

// Consumer is a gateway consumer identity.
type Consumer struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	CustomID string `json:"custom_id"`
}

// RateLimits carries the per-window request budgets pushed to the
// rate-limiting plugin.
type RateLimits struct {
	Minute int `json:"minute,omitempty"`
	Hour   int `json:"hour,omitempty"`
	Day    int `json:"day,omitempty"`
}

// PluginConfig is a plugin push request. Exactly one of RateLimits or
// Termination is set depending on the plugin name.
type PluginConfig struct {
	Name          string
	ConsumerID    string
	ConsumerGroup string
	Enabled       bool
	RateLimits    *RateLimits
	Termination   *Termination
}

// Termination configures the request-termination plugin used to suspend
// a consumer at the gateway.
type Termination struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}
