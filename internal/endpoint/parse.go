package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// Spec is the parsed form of a destination argument before a concrete
// endpoint is constructed.
type Spec struct {
	// Scheme is "file", "ssh", or "shell".
	Scheme string
	// Path is the local or remote filesystem path (file, ssh schemes).
	Path string
	// Host, User, Port are populated for the ssh scheme.
	Host string
	User string
	Port string
	// Command is the raw command line for the shell scheme, with %DEST%
	// left unexpanded.
	Command string
	// Raw is the original destination string, used verbatim as the
	// file-scheme lock-journal key.
	Raw string
}

// ParseDestination classifies a destination argument per spec §6: an
// absolute path is local, "ssh://[user@]host[:port]/abs/path" is SSH,
// "shell://<command>" is a write-only custom command.
func ParseDestination(dest string) (*Spec, error) {
	switch {
	case strings.HasPrefix(dest, "ssh://"):
		u, err := url.Parse(dest)
		if err != nil {
			return nil, fmt.Errorf("endpoint: parsing ssh destination %q: %w", dest, err)
		}
		if u.Host == "" || u.Path == "" {
			return nil, fmt.Errorf("endpoint: ssh destination %q must include host and path", dest)
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		return &Spec{
			Scheme: "ssh",
			Path:   u.Path,
			Host:   u.Hostname(),
			User:   user,
			Port:   u.Port(),
			Raw:    dest,
		}, nil
	case strings.HasPrefix(dest, "shell://"):
		cmd := strings.TrimPrefix(dest, "shell://")
		if cmd == "" {
			return nil, fmt.Errorf("endpoint: shell destination %q has no command", dest)
		}
		return &Spec{
			Scheme:  "shell",
			Command: cmd,
			Raw:     dest,
		}, nil
	case strings.HasPrefix(dest, "/"):
		return &Spec{
			Scheme: "file",
			Path:   dest,
			Raw:    dest,
		}, nil
	default:
		return nil, fmt.Errorf("endpoint: destination %q is not an absolute path, ssh:// URL, or shell:// command", dest)
	}
}
