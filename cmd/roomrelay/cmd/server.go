package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/roomrelay/roomrelay/internal/config"
)

// wsEndpoint turns the server base URL into the /ws dial URL.
func wsEndpoint(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/ws"
	return u.String(), nil
}

// fetchICEServers asks the server for its STUN/TURN list so the CLI uses the
// same ICE configuration as browser clients.
func fetchICEServers(base string) ([]webrtc.ICEServer, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Get(strings.TrimRight(base, "/") + "/ice")
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ice servers: status %d", resp.StatusCode)
	}

	var payload struct {
		ICEServers json.RawMessage `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	if len(payload.ICEServers) == 0 || string(payload.ICEServers) == "null" {
		return nil, nil
	}
	return config.ParseICEServersJSON(string(payload.ICEServers))
}
