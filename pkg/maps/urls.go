package maps

import (
	"fmt"
	"net/url"
	"strings"
)

// URLBuilder assembles share and map URLs. It holds no per-user state; every
// value is passed in explicitly.
type URLBuilder struct {
	// Origin is the scheme and host of the hosting page, e.g. http://localhost:8080.
	Origin string

	// MapURIPrefix precedes an encoded map reference in share URLs.
	MapURIPrefix string

	// ProviderName is the provider path segment of load-params URLs.
	ProviderName string
}

// ShareURL returns the share URL for a retrievable map reference.
func (b URLBuilder) ShareURL(reference string, full bool) (string, error) {
	if reference == "" {
		return "", invalidParams("share url", "map reference is empty")
	}
	return b.absolute(b.MapURIPrefix+encodeURIComponent(reference), full), nil
}

// LoadParamsShareURL returns a share URL that reopens lp through this
// provider. Recipients must be signed in to open it.
func (b URLBuilder) LoadParamsShareURL(lp LoadParams, full bool) (string, error) {
	if err := checkLoadParams("share url", lp); err != nil {
		return "", err
	}
	path := b.mapPath(lp)
	if lp.IdentityID != "" {
		path += "&identityId=" + encodeURIComponent(lp.IdentityID)
	}
	return b.absolute(path, full), nil
}

// MapURL returns the URL reopening lp. The identityId parameter is present
// only when lp addresses a namespace other than currentUserID's.
func (b URLBuilder) MapURL(lp LoadParams, currentUserID string, full bool) (string, error) {
	if err := checkLoadParams("map url", lp); err != nil {
		return "", err
	}
	path := b.mapPath(lp)
	if lp.IdentityID != "" && lp.IdentityID != currentUserID {
		path += "&identityId=" + encodeURIComponent(lp.IdentityID)
	}
	return b.absolute(path, full), nil
}

func (b URLBuilder) mapPath(lp LoadParams) string {
	return fmt.Sprintf("demo/map/%s?level=%s&mapId=%s",
		b.ProviderName, encodeURIComponent(string(lp.Level)), encodeURIComponent(lp.MapID))
}

func (b URLBuilder) absolute(path string, full bool) string {
	if full {
		return strings.TrimSuffix(b.Origin, "/") + "/" + path
	}
	return "/" + path
}

func checkLoadParams(op string, lp LoadParams) error {
	if lp.Level == "" {
		return invalidParams(op, "level is empty")
	}
	if !lp.Level.Valid() {
		return invalidParams(op, "unknown level %q", lp.Level)
	}
	if lp.MapID == "" {
		return invalidParams(op, "map id is empty")
	}
	return nil
}

// encodeURIComponent escapes s like the browser function of the same name.
func encodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	return componentUnescaper.Replace(escaped)
}

var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)
