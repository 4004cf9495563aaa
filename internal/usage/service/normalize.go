package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var errEmptyPayload = errors.New("empty_payload")

// logEntry mirrors the gateway http-log webhook shape. Unknown fields
// are ignored by encoding/json.
type logEntry struct {
	StartedAt int64 `json:"startedAt"`

	Service struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Protocol string `json:"protocol"`
	} `json:"service"`

	Route struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Paths   []string `json:"paths"`
		Methods []string `json:"methods"`
		Hosts   []string `json:"hosts"`
	} `json:"route"`

	Consumer struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		CustomID string `json:"customId"`
	} `json:"consumer"`

	Request struct {
		Method string `json:"method"`
		Path   string `json:"path"`
		Size   int64  `json:"size"`
		ID     string `json:"id"`
	} `json:"request"`

	Response struct {
		Status int   `json:"status"`
		Size   int64 `json:"size"`
	} `json:"response"`

	Latencies struct {
		Kong    int64 `json:"kong"`
		Proxy   int64 `json:"proxy"`
		Request int64 `json:"request"`
	} `json:"latencies"`
}

// splitEvents accepts a single JSON object or an array of objects. A
// payload that is neither fails as a whole.
func splitEvents(raw []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, errEmptyPayload
	}

	if strings.HasPrefix(trimmed, "[") {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}

	var single map[string]json.RawMessage
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}

// dropReason explains why an event was discarded. Empty means keep.
func dropReason(entry logEntry) string {
	switch {
	case strings.TrimSpace(entry.Request.Path) == "":
		return "missing_path"
	case strings.TrimSpace(entry.Request.Method) == "":
		return "missing_method"
	case entry.Response.Status == 0:
		return "missing_status"
	case strings.TrimSpace(entry.Request.ID) == "" && (entry.StartedAt == 0 || strings.TrimSpace(entry.Route.ID) == ""):
		// Without an explicit request ID, a stable identity needs the
		// start timestamp and route ID.
		return "missing_identity"
	default:
		return ""
	}
}

// correlationID prefers the explicit request ID; otherwise it derives a
// stable digest so the same logical event always maps to the same ID
// under at-least-once delivery.
func correlationID(entry logEntry) string {
	if id := strings.TrimSpace(entry.Request.ID); id != "" {
		return id
	}

	seed := strings.Join([]string{
		strconv.FormatInt(entry.StartedAt, 10),
		strings.TrimSpace(entry.Consumer.ID),
		strings.TrimSpace(entry.Route.ID),
		strings.TrimSpace(entry.Request.Method),
		strings.TrimSpace(entry.Request.Path),
	}, "|")
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
