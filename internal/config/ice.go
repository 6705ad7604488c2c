package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

var errEmptySTUNList = errors.New("empty stun server list")

// ValidateSTUNURLs checks the static connectivity-assist list. Only STUN
// schemes are accepted; the baseline deployment runs without TURN.
func ValidateSTUNURLs(urls []string) error {
	if len(urls) == 0 {
		return errEmptySTUNList
	}
	for i, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			return fmt.Errorf("stun_servers[%d]: empty url", i)
		}
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			return fmt.Errorf("stun_servers[%d]: unsupported scheme in %q", i, u)
		}
	}
	return nil
}

// ICEServers converts the configured STUN list into a pion configuration.
func ICEServers(urls []string) []webrtc.ICEServer {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	return []webrtc.ICEServer{{URLs: cleaned}}
}
