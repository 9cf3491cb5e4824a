package providers

import (
	"reflect"
	"strings"
	"testing"

	"github.com/goliatone/go-oauth-broker/core"
)

func TestDescriptor_BuildsFromCatalog(t *testing.T) {
	descriptor, err := Descriptor("Google", "client-123", "secret-456")
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if descriptor.ServiceID != "google" || descriptor.TokenEndpointURL != "https://oauth2.googleapis.com/token" {
		t.Fatalf("unexpected descriptor %#v", descriptor)
	}
	authURL, err := core.BuildAuthURL(descriptor.AuthorizationURLTemplate, core.AuthURLParams{
		ClientID:    "myClientId",
		RedirectURI: "https://authconnect-djs.web.app/redir.html",
		Scope:       "youtube",
		State:       "s1",
	})
	if err != nil {
		t.Fatalf("build auth url: %v", err)
	}
	want := "https://accounts.google.com/o/oauth2/v2/auth?client_id=myClientId&response_type=code&redirect_uri=https%3A%2F%2Fauthconnect-djs.web.app%2Fredir.html&scope=youtube&access_type=offline&state=s1"
	if authURL != want {
		t.Fatalf("unexpected auth url\nwant %s\ngot  %s", want, authURL)
	}
}

func TestDescriptor_RejectsUnknownAndIncomplete(t *testing.T) {
	if _, err := Descriptor("dropbox", "id", "secret"); !core.IsConfigurationError(err) {
		t.Fatalf("expected unknown service to be a configuration error, got %v", err)
	}
	if _, err := Descriptor("spotify", "", "secret"); !core.IsConfigurationError(err) {
		t.Fatalf("expected missing client id to be a configuration error, got %v", err)
	}
}

func TestKnownServices(t *testing.T) {
	if got := KnownServices(); !reflect.DeepEqual(got, []string{"github", "google", "pinterest", "salesforce", "spotify"}) {
		t.Fatalf("unexpected services %v", got)
	}
	entry, ok := Lookup(" SPOTIFY ")
	if !ok || !strings.HasPrefix(entry.AuthorizationURLTemplate, "https://accounts.spotify.com/authorize") {
		t.Fatalf("unexpected spotify entry %#v", entry)
	}
}
