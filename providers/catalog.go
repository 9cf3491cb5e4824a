package providers

import (
	"sort"
	"strings"

	"github.com/goliatone/go-oauth-broker/core"
)

// CatalogEntry is the built-in provider configuration for a service id.
type CatalogEntry struct {
	AuthorizationURLTemplate string
	TokenEndpointURL         string
}

var catalog = map[string]CatalogEntry{
	"github": {
		AuthorizationURLTemplate: "https://github.com/login/oauth/authorize?client_id={{CLIENT_ID}}&redirect_uri={{REDIR}}&scope={{SCOPE}}&state={{STATE}}",
		TokenEndpointURL:         "https://github.com/login/oauth/access_token",
	},
	"google": {
		AuthorizationURLTemplate: "https://accounts.google.com/o/oauth2/v2/auth?client_id={{CLIENT_ID}}&response_type=code&redirect_uri={{REDIR}}&scope={{SCOPE}}&access_type=offline&state={{STATE}}",
		TokenEndpointURL:         "https://oauth2.googleapis.com/token",
	},
	"pinterest": {
		AuthorizationURLTemplate: "https://www.pinterest.com/oauth/?client_id={{CLIENT_ID}}&response_type=code&redirect_uri={{REDIR}}&scope={{SCOPE}}&state={{STATE}}",
		TokenEndpointURL:         "https://api.pinterest.com/v5/oauth/token",
	},
	"salesforce": {
		AuthorizationURLTemplate: "https://login.salesforce.com/services/oauth2/authorize?client_id={{CLIENT_ID}}&response_type=code&redirect_uri={{REDIR}}&scope={{SCOPE}}&state={{STATE}}",
		TokenEndpointURL:         "https://login.salesforce.com/services/oauth2/token",
	},
	"spotify": {
		AuthorizationURLTemplate: "https://accounts.spotify.com/authorize?client_id={{CLIENT_ID}}&response_type=code&redirect_uri={{REDIR}}&scope={{SCOPE}}&state={{STATE}}",
		TokenEndpointURL:         "https://accounts.spotify.com/api/token",
	},
}

// Lookup returns the built-in entry for serviceID.
func Lookup(serviceID string) (CatalogEntry, bool) {
	entry, ok := catalog[strings.ToLower(strings.TrimSpace(serviceID))]
	return entry, ok
}

// KnownServices lists the built-in service ids in sorted order.
func KnownServices() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Descriptor builds a validated descriptor for a built-in service.
func Descriptor(serviceID string, clientID string, clientSecret string) (core.ServiceDescriptor, error) {
	id := strings.ToLower(strings.TrimSpace(serviceID))
	entry, ok := catalog[id]
	if !ok {
		return core.ServiceDescriptor{}, core.NewServiceNotConfiguredError(id)
	}
	descriptor := core.ServiceDescriptor{
		ServiceID:                id,
		AuthorizationURLTemplate: entry.AuthorizationURLTemplate,
		TokenEndpointURL:         entry.TokenEndpointURL,
		ClientID:                 strings.TrimSpace(clientID),
		ClientSecret:             strings.TrimSpace(clientSecret),
	}
	if err := descriptor.Validate(); err != nil {
		return core.ServiceDescriptor{}, err
	}
	return descriptor, nil
}
