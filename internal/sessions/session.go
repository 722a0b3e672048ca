package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// KeyAuth is the login token cookie.
	KeyAuth = "z_c0"
	// KeyDevice is the device cookie, it doubles as the signing secret seed.
	KeyDevice = "d_c0"

	placeholderValue = "YOUR_COOKIE_HERE"
	// the signing script accepts a fixed stand-in when no device cookie is known
	secretFallback = "SEARCH_ME"
)

// Session is one authenticated identity, it is never mutated after loading.
type Session struct {
	// Source names the credential document this session came from.
	Source  string
	Cookies map[string]string
}

// Valid reports whether the session carries at least one identity key.
func (s Session) Valid() bool {
	return s.Cookies[KeyAuth] != "" || s.Cookies[KeyDevice] != ""
}

// Secret is the value the signature provider is seeded with.
func (s Session) Secret() string {
	device := s.Cookies[KeyDevice]
	if device == "" {
		device = secretFallback
	}
	return fmt.Sprintf("%s=%s", KeyDevice, device)
}

// Label is a short, non-sensitive description of the session.
func (s Session) Label() string {
	token := s.Cookies[KeyAuth]
	if token == "" {
		token = s.Cookies[KeyDevice]
	}
	return fmt.Sprintf("%s (%s)", s.Source, Mask(token))
}

func (s Session) fingerprint() string {
	keys := make([]string, 0, len(s.Cookies))
	for k := range s.Cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		out.WriteString(k)
		out.WriteByte('=')
		out.WriteString(s.Cookies[k])
		out.WriteByte(';')
	}
	return out.String()
}

type cookiePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var errUnknownShape = errors.New("credential document is neither a list of {name, value} nor a flat map")

// ParseCredentials parses a credential document, which is either a list of
// {name, value} pairs (browser cookie export) or a flat key/value map.
// Placeholder and empty values are dropped.
func ParseCredentials(data []byte) (map[string]string, error) {
	out := map[string]string{}

	var pairs []cookiePair
	listErr := json.Unmarshal(data, &pairs)
	if listErr == nil {
		for _, p := range pairs {
			add(out, p.Name, p.Value)
		}
		return out, nil
	}

	var flat map[string]any
	err := json.Unmarshal(data, &flat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnknownShape, err)
	}
	for k, v := range flat {
		str, ok := v.(string)
		if !ok {
			continue
		}
		add(out, k, str)
	}
	return out, nil
}

func add(out map[string]string, name, value string) {
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" || value == "" || value == placeholderValue {
		return
	}
	out[name] = value
}
