package resolve

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/mediaget/media-downloader/internal/httpx"
	"github.com/mediaget/media-downloader/internal/model"
)

// DirectResolver treats a URL as a directly fetchable file: a HEAD probe
// yields a single variant. Registered last, it is the fallback for anything
// the platform resolvers do not claim.
type DirectResolver struct {
	client *httpx.Client
}

// NewDirectResolver creates a direct resolver using the given HTTP client.
// A nil client uses default options.
func NewDirectResolver(client *httpx.Client) *DirectResolver {
	if client == nil {
		client = httpx.NewClient(httpx.DefaultOptions())
	}
	return &DirectResolver{client: client}
}

// Name identifies the resolver
func (d *DirectResolver) Name() string {
	return "direct"
}

// CanResolve accepts any http(s) URL
func (d *DirectResolver) CanResolve(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Resolve probes the URL and returns a single variant
func (d *DirectResolver) Resolve(ctx context.Context, rawURL string) ([]model.MediaVariant, error) {
	desc := model.FetchDescriptor{URL: rawURL}
	info, err := d.client.Head(ctx, desc)
	if err != nil {
		return nil, d.classify(rawURL, err)
	}

	filename := info.Filename
	if filename == "" {
		filename = filenameFromURL(rawURL)
	}

	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		ext = containerFromContentType(info.ContentType)
	}

	size := info.Size
	if size < 0 {
		size = 0
	}

	return []model.MediaVariant{{
		SourceURL:     rawURL,
		Title:         strings.TrimSuffix(filename, path.Ext(filename)),
		FormatID:      "direct",
		Container:     ext,
		EstimatedSize: size,
		Descriptor:    desc,
	}}, nil
}

// classify maps probe failures to resolution error kinds
func (d *DirectResolver) classify(url string, err error) *Error {
	switch {
	case errors.Is(err, httpx.ErrNotFound),
		errors.Is(err, httpx.ErrForbidden),
		errors.Is(err, httpx.ErrUnauthorized):
		return &Error{Kind: KindPrivateOrRemoved, URL: url, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindNetwork, URL: url, Err: err}
	default:
		return &Error{Kind: KindNetwork, URL: url, Err: err}
	}
}

// filenameFromURL derives a filename from the URL path
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "download"
	}
	return name
}

// containerFromContentType maps a MIME type to a container label
func containerFromContentType(contentType string) string {
	contentType = strings.SplitN(contentType, ";", 2)[0]
	switch contentType {
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4":
		return "m4a"
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	}
	if idx := strings.Index(contentType, "/"); idx >= 0 && idx < len(contentType)-1 {
		return contentType[idx+1:]
	}
	return "bin"
}
