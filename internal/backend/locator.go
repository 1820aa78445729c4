package backend

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cesargomez89/stemdeck/internal/domain"
)

var youtubeHosts = map[string]bool{
	"www.youtube.com":   true,
	"youtube.com":       true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

var videoID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateLocator accepts http(s) YouTube watch, shorts and youtu.be links
// and returns the video id.
func ValidateLocator(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", domain.InvalidInput("url is required")
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", domain.InvalidInput("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", domain.InvalidInput("unsupported url scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case youtubeHosts[host] && u.Path == "/watch":
		id = u.Query().Get("v")
	case youtubeHosts[host] && strings.HasPrefix(u.Path, "/shorts/"):
		id = strings.Trim(strings.TrimPrefix(u.Path, "/shorts/"), "/")
	default:
		return "", domain.InvalidInput("not a supported YouTube url")
	}

	if !videoID.MatchString(id) {
		return "", domain.InvalidInput("missing or malformed video id")
	}
	return id, nil
}
