package gitenv

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/codefionn/gitspace/internal/store"
)

// ErrUnsupportedRemote is returned for URLs whose transport cannot be
// determined.
var ErrUnsupportedRemote = errors.New("unsupported remote url")

// Remote is the host and transport kind inferred from a repository URL.
type Remote struct {
	Host string
	Kind store.CredentialKind
}

// ParseRemote extracts the remote host (lowercase, no scheme/port/path) and
// the transport kind from a Git URL. Supports http(s)://, ssh:// and
// SCP-like user@host:path forms.
func ParseRemote(raw string) (Remote, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Remote{}, fmt.Errorf("%w: empty url", ErrUnsupportedRemote)
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Remote{}, fmt.Errorf("%w: %v", ErrUnsupportedRemote, err)
		}
		host := strings.ToLower(u.Hostname())
		if host == "" {
			return Remote{}, fmt.Errorf("%w: no host in %q", ErrUnsupportedRemote, raw)
		}
		switch u.Scheme {
		case "http", "https":
			return Remote{Host: host, Kind: store.KindHTTPS}, nil
		case "ssh":
			return Remote{Host: host, Kind: store.KindSSH}, nil
		default:
			return Remote{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedRemote, u.Scheme)
		}
	}

	// SCP-like syntax: [user@]host:path
	if at := strings.Index(raw, "@"); at >= 0 {
		rest := raw[at+1:]
		colon := strings.Index(rest, ":")
		if colon <= 0 {
			return Remote{}, fmt.Errorf("%w: %q", ErrUnsupportedRemote, raw)
		}
		host := strings.ToLower(rest[:colon])
		return Remote{Host: host, Kind: store.KindSSH}, nil
	}

	return Remote{}, fmt.Errorf("%w: %q", ErrUnsupportedRemote, raw)
}
