package resolve

import (
	"context"
	"fmt"

	"github.com/mediaget/media-downloader/internal/model"
)

// Kind classifies resolution failures
type Kind int

const (
	// KindNotSupported means no resolver handles the URL
	KindNotSupported Kind = iota

	// KindNetwork means the platform could not be reached
	KindNetwork

	// KindPlatformChanged means the page was reached but could not be parsed
	KindPlatformChanged

	// KindPrivateOrRemoved means the item exists but is not accessible
	KindPrivateOrRemoved
)

// Error is a typed resolution failure
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve %s: %s: %v", e.URL, e.Reason(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns a short human-readable description of the failure kind
func (e *Error) Reason() string {
	switch e.Kind {
	case KindNotSupported:
		return "URL not supported"
	case KindNetwork:
		return "network error during resolution"
	case KindPlatformChanged:
		return "platform page could not be parsed"
	case KindPrivateOrRemoved:
		return "content is private or was removed"
	default:
		return "resolution failed"
	}
}

// Resolver translates a source URL into fetchable media variants. Resolve must
// be idempotent and must not mutate shared state; repeated calls may return
// different variants as the platform changes.
type Resolver interface {
	// Name identifies the resolver in logs and CLI output
	Name() string

	// CanResolve reports whether this resolver handles the URL
	CanResolve(url string) bool

	// Resolve returns the available variants ordered best-first
	Resolve(ctx context.Context, url string) ([]model.MediaVariant, error)
}

// PlaylistExpander is implemented by resolvers that can expand a playlist URL
// into individual item URLs.
type PlaylistExpander interface {
	// IsPlaylist reports whether the URL addresses a collection of items
	IsPlaylist(url string) bool

	// ExpandPlaylist lists item URLs, up to max entries (0 means no limit)
	ExpandPlaylist(ctx context.Context, url string, max int) ([]string, error)
}

// Registry dispatches URLs to the first matching resolver
type Registry struct {
	resolvers []Resolver
}

// NewRegistry creates a registry with the given resolvers in match order
func NewRegistry(resolvers ...Resolver) *Registry {
	return &Registry{resolvers: resolvers}
}

// Register appends a resolver. Earlier registrations win on overlap.
func (r *Registry) Register(res Resolver) {
	r.resolvers = append(r.resolvers, res)
}

// Lookup returns the resolver responsible for the URL
func (r *Registry) Lookup(url string) (Resolver, error) {
	for _, res := range r.resolvers {
		if res.CanResolve(url) {
			return res, nil
		}
	}
	return nil, &Error{Kind: KindNotSupported, URL: url, Err: fmt.Errorf("no resolver registered for URL")}
}

// Resolve dispatches to the matching resolver
func (r *Registry) Resolve(ctx context.Context, url string) ([]model.MediaVariant, error) {
	res, err := r.Lookup(url)
	if err != nil {
		return nil, err
	}
	return res.Resolve(ctx, url)
}

// SelectVariant picks one variant using a selector: "best" (or empty) takes
// the first, "worst" the last, anything else must match a format id.
func SelectVariant(variants []model.MediaVariant, selector string) (*model.MediaVariant, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("no variants to select from")
	}
	switch selector {
	case "", "best":
		return &variants[0], nil
	case "worst":
		return &variants[len(variants)-1], nil
	}
	for i := range variants {
		if variants[i].FormatID == selector {
			return &variants[i], nil
		}
	}
	return nil, fmt.Errorf("no variant with format id %q", selector)
}
