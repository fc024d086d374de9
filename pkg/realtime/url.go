package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

// Channel selects the server endpoint.
type Channel string

const (
	ChannelAttendance    Channel = "attendance"
	ChannelNotifications Channel = "notifications"
)

// BuildURL derives the WebSocket URL for channel from an http(s) or ws(s)
// base URL: http becomes ws, https becomes wss, and the token is passed as
// the token query parameter.
func BuildURL(base string, channel Channel, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	if channel == "" {
		channel = ChannelAttendance
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + string(channel) + "/"
	u.RawPath = ""
	u.Fragment = ""

	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
