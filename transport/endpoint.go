package transport

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/gitkit-go/gitkit/ginternals"
)

// scpLikeURL matches git's traditional scp-style remote syntax, e.g.
// "git@example.com:org/repo.git" or "example.com:2222:org/repo.git".
var scpLikeURL = regexp.MustCompile(`^(?:(?P<user>[^@]+)@)?(?P<host>[^:\s]+):(?:(?P<port>[0-9]{1,5}):)?(?P<path>[^\\].*)$`)

func isValidSchemeChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '+' || c == '-' || c == '.'
}

// hasScheme reports whether s begins with "<scheme>://", without the
// false positives a naive strings.Contains(s, "://") would have on an
// scp-like path containing "://" deeper in.
func hasScheme(s string) bool {
	for i, c := range s {
		if c == ':' && i+2 < len(s) && s[i+1] == '/' && s[i+2] == '/' {
			return true
		}
		if !isValidSchemeChar(c) {
			return false
		}
	}
	return false
}

// Endpoint is a parsed remote URL in any of the schemes transport
// supports, plus the scp-like shorthand git accepts for ssh.
type Endpoint struct {
	Scheme string // "http", "https", "ssh", "git"
	User   string
	Host   string
	Port   int
	Path   string

	// ExtraHeader carries additional HTTP headers for the http/https
	// schemes, keyed lower-case.
	ExtraHeader map[string]string

	raw string
}

func (e *Endpoint) String() string {
	if e.raw != "" {
		return e.raw
	}
	var b strings.Builder
	b.WriteString(e.Scheme)
	b.WriteString("://")
	if e.User != "" {
		b.WriteString(e.User)
		b.WriteByte('@')
	}
	b.WriteString(e.Host)
	if e.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.Port))
	}
	b.WriteString(e.Path)
	return b.String()
}

var defaultPort = map[string]int{
	"http":  80,
	"https": 443,
	"ssh":   22,
	"git":   9418,
}

func parseSCPLike(raw string) (*Endpoint, bool) {
	if hasScheme(raw) {
		return nil, false
	}
	m := scpLikeURL.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	port, err := strconv.Atoi(m[3])
	if err != nil {
		port = defaultPort["ssh"]
	}
	return &Endpoint{
		Scheme: "ssh",
		User:   m[1],
		Host:   m[2],
		Port:   port,
		Path:   m[4],
		raw:    raw,
	}, true
}

// ParseEndpoint parses raw as either git's scp-like shorthand
// ("user@host:path") or a standard URL with an http/https/ssh/git
// scheme.
func ParseEndpoint(raw string) (*Endpoint, error) {
	if e, ok := parseSCPLike(raw); ok {
		return e, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindParseURL, "invalid remote url", err)
	}
	if !u.IsAbs() {
		return nil, ginternals.NewError(ginternals.KindParseURL, "remote url has no scheme: "+raw, nil)
	}

	scheme := strings.ToLower(u.Scheme)
	var user string
	if u.User != nil {
		user = u.User.Username()
	}
	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindParseURL, "invalid port in remote url: "+raw, err)
		}
	}
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return &Endpoint{
		Scheme: scheme,
		User:   user,
		Host:   u.Hostname(),
		Port:   port,
		Path:   path,
	}, nil
}

// HostPort returns host and port, substituting the scheme's default
// port when none was given explicitly.
func (e *Endpoint) HostPort() (string, int) {
	port := e.Port
	if port == 0 {
		port = defaultPort[e.Scheme]
	}
	return e.Host, port
}
