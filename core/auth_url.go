package core

import (
	"net/url"
	"strings"
)

const (
	PlaceholderClientID = "{{CLIENT_ID}}"
	PlaceholderRedirect = "{{REDIR}}"
	PlaceholderScope    = "{{SCOPE}}"
	PlaceholderState    = "{{STATE}}"
)

// AuthURLParams are the values substituted into an authorization URL template.
type AuthURLParams struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
}

// BuildAuthURL replaces the known placeholders in template with
// percent-encoded values. Unknown placeholders are left untouched.
func BuildAuthURL(template string, params AuthURLParams) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", NewConfigurationError("core: authorization url template is required", nil)
	}
	replacer := strings.NewReplacer(
		PlaceholderClientID, encodeURIComponent(params.ClientID),
		PlaceholderRedirect, encodeURIComponent(params.RedirectURI),
		PlaceholderScope, encodeURIComponent(params.Scope),
		PlaceholderState, encodeURIComponent(params.State),
	)
	return replacer.Replace(template), nil
}

// encodeURIComponent escapes value for use inside a query component, writing
// spaces as %20 and leaving the unreserved marks unescaped.
func encodeURIComponent(value string) string {
	escaped := url.QueryEscape(value)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	for encoded, literal := range componentUnescapes {
		escaped = strings.ReplaceAll(escaped, encoded, literal)
	}
	return escaped
}

var componentUnescapes = map[string]string{
	"%21": "!",
	"%27": "'",
	"%28": "(",
	"%29": ")",
	"%2A": "*",
}
