package tabs

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var ErrNoActiveTab = errors.New("no active tab")

// Tab is the raw answer of a browser when asked for its focused tab.
type Tab struct {
	ID         string
	URL        string
	Title      string
	FavIconURL string
}

// Context is the identifying snapshot of the tab an operation targets.
// It is derived fresh for every request and never persisted.
type Context struct {
	TabID      string
	URL        string
	Domain     string
	Title      string
	FaviconURL string
}

// SameTab reports whether two snapshots refer to the same tab showing the same page.
func (c Context) SameTab(other Context) bool {
	return c.TabID == other.TabID && c.URL == other.URL
}

type TabQuerier interface {
	ActiveTab(ctx context.Context) (Tab, error)
}

type Resolver struct {
	querier TabQuerier
}

func NewResolver(querier TabQuerier) *Resolver {
	return &Resolver{querier: querier}
}

// ResolveActiveTab queries the browser for the tab in the focused window.
// The answer is never cached: the user may switch tabs between two steps.
func (r *Resolver) ResolveActiveTab(ctx context.Context) (Context, error) {
	if r.querier == nil {
		return Context{}, ErrNoActiveTab
	}
	tab, err := r.querier.ActiveTab(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveTab) {
			return Context{}, err
		}
		return Context{}, errors.Join(ErrNoActiveTab, err)
	}
	if strings.TrimSpace(tab.ID) == "" || strings.TrimSpace(tab.URL) == "" {
		return Context{}, ErrNoActiveTab
	}
	domain, err := Domain(tab.URL)
	if err != nil {
		return Context{}, err
	}
	return Context{
		TabID:      tab.ID,
		URL:        tab.URL,
		Domain:     domain,
		Title:      tab.Title,
		FaviconURL: tab.FavIconURL,
	}, nil
}

// Domain returns the registrable domain (eTLD+1) of rawURL. Hosts the public
// suffix list cannot reduce, such as IP addresses or localhost, come back as
// the bare hostname.
func Domain(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", errors.Join(ErrNoActiveTab, err)
	}
	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
	if host == "" {
		return "", ErrNoActiveTab
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return strings.TrimPrefix(host, "www."), nil
	}
	return registrable, nil
}
