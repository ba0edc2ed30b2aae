package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/mediaget/media-downloader/internal/model"
)

// DefaultResolveTimeout bounds a single yt-dlp invocation
const DefaultResolveTimeout = 60 * time.Second

// DefaultPlaylistLimit caps playlist expansion when the caller passes 0
const DefaultPlaylistLimit = 100

// URL parameters and separators
const (
	playlistParam  = "list="
	paramSeparator = "&"
)

// youTubeVideoURLTemplate rebuilds a watch URL from a playlist item id
const youTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"

// ytdlpDomains are the platforms delegated to the yt-dlp collaborator
var ytdlpDomains = []string{
	"youtube.com",
	"youtu.be",
	"tiktok.com",
	"instagram.com",
	"facebook.com",
	"fb.watch",
	"pinterest.com",
}

// YTDLPResolver resolves platform URLs by invoking the external yt-dlp
// collaborator and parsing its JSON dump. It performs no downloads itself.
type YTDLPResolver struct {
	binPath string
	timeout time.Duration
	domains []string
}

// NewYTDLPResolver creates a resolver shelling out to the given yt-dlp binary.
// An empty binPath uses "yt-dlp" from PATH.
func NewYTDLPResolver(binPath string) *YTDLPResolver {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &YTDLPResolver{
		binPath: binPath,
		timeout: DefaultResolveTimeout,
		domains: ytdlpDomains,
	}
}

// SetTimeout sets the timeout for resolution operations
func (y *YTDLPResolver) SetTimeout(timeout time.Duration) {
	y.timeout = timeout
}

// Name identifies the resolver
func (y *YTDLPResolver) Name() string {
	return "yt-dlp"
}

// CanResolve matches the supported platform domains
func (y *YTDLPResolver) CanResolve(url string) bool {
	for _, d := range y.domains {
		if strings.Contains(url, d) {
			return true
		}
	}
	return false
}

// Resolve invokes yt-dlp for a single item and maps its format list to
// variants ordered best-first. Cancelling the context kills the collaborator
// process; --no-cache-dir keeps it from leaving session artifacts behind.
func (y *YTDLPResolver) Resolve(ctx context.Context, url string) ([]model.MediaVariant, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, y.binPath,
		"--dump-single-json",
		"--no-playlist",
		"--no-warnings",
		"--no-cache-dir",
		url,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, y.classify(url, stderr.String(), ctx, err)
	}

	variants, err := parseDumpJSON(stdout.Bytes(), url)
	if err != nil {
		return nil, &Error{Kind: KindPlatformChanged, URL: url, Err: err}
	}
	return variants, nil
}

// IsPlaylist reports whether the URL carries a playlist parameter
func (y *YTDLPResolver) IsPlaylist(url string) bool {
	return strings.Contains(url, playlistParam)
}

// ExpandPlaylist lists the watch URLs of a playlist, up to max entries
func (y *YTDLPResolver) ExpandPlaylist(ctx context.Context, url string, max int) ([]string, error) {
	playlistID := extractPlaylistID(url)
	if playlistID == "" {
		return nil, &Error{Kind: KindNotSupported, URL: url, Err: fmt.Errorf("could not extract playlist id")}
	}
	if max <= 0 {
		max = DefaultPlaylistLimit
	}

	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Err: fmt.Errorf("get playlist items: %w", err)}
	}

	urls := make([]string, 0, len(items))
	for _, it := range items {
		if len(urls) >= max {
			break
		}
		urls = append(urls, fmt.Sprintf(youTubeVideoURLTemplate, it.VideoID))
	}
	return urls, nil
}

// classify maps a failed yt-dlp invocation to a resolution error kind
func (y *YTDLPResolver) classify(url, stderr string, ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &Error{Kind: KindNetwork, URL: url, Err: fmt.Errorf("resolution timed out: %w", ctxErr)}
		}
		return &Error{Kind: KindNetwork, URL: url, Err: ctxErr}
	}

	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "unsupported url"):
		return &Error{Kind: KindNotSupported, URL: url, Err: fmt.Errorf("%s", firstLine(stderr))}
	case strings.Contains(msg, "private"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "removed"),
		strings.Contains(msg, "login required"),
		strings.Contains(msg, "sign in"):
		return &Error{Kind: KindPrivateOrRemoved, URL: url, Err: fmt.Errorf("%s", firstLine(stderr))}
	case strings.Contains(msg, "unable to download"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "network"):
		return &Error{Kind: KindNetwork, URL: url, Err: fmt.Errorf("%s", firstLine(stderr))}
	}
	if stderr == "" {
		return &Error{Kind: KindPlatformChanged, URL: url, Err: err}
	}
	return &Error{Kind: KindPlatformChanged, URL: url, Err: fmt.Errorf("%s", firstLine(stderr))}
}

// ytdlpInfo is the subset of yt-dlp's JSON dump the resolver consumes
type ytdlpInfo struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	WebpageURL  string            `json:"webpage_url"`
	Ext         string            `json:"ext"`
	Filesize    int64             `json:"filesize"`
	HTTPHeaders map[string]string `json:"http_headers"`
	Formats     []ytdlpFormat     `json:"formats"`
}

type ytdlpFormat struct {
	FormatID       string            `json:"format_id"`
	URL            string            `json:"url"`
	Ext            string            `json:"ext"`
	Resolution     string            `json:"resolution"`
	Filesize       int64             `json:"filesize"`
	FilesizeApprox int64             `json:"filesize_approx"`
	VCodec         string            `json:"vcodec"`
	ACodec         string            `json:"acodec"`
	HTTPHeaders    map[string]string `json:"http_headers"`
}

// parseDumpJSON converts a --dump-single-json document into variants.
// yt-dlp lists formats worst-first; the returned slice is best-first.
func parseDumpJSON(data []byte, sourceURL string) ([]model.MediaVariant, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}

	var variants []model.MediaVariant
	for i := len(info.Formats) - 1; i >= 0; i-- {
		f := info.Formats[i]
		if f.URL == "" {
			continue
		}
		// Storyboard/image-only entries are not downloadable media
		if f.VCodec == "none" && f.ACodec == "none" {
			continue
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		variants = append(variants, model.MediaVariant{
			SourceURL:       sourceURL,
			Title:           info.Title,
			FormatID:        f.FormatID,
			Container:       f.Ext,
			ResolutionLabel: f.Resolution,
			EstimatedSize:   size,
			Descriptor: model.FetchDescriptor{
				URL:     f.URL,
				Headers: f.HTTPHeaders,
			},
		})
	}

	// Some extractors expose a single stream at the top level only
	if len(variants) == 0 && info.URL != "" {
		variants = append(variants, model.MediaVariant{
			SourceURL:     sourceURL,
			Title:         info.Title,
			FormatID:      "default",
			Container:     info.Ext,
			EstimatedSize: info.Filesize,
			Descriptor: model.FetchDescriptor{
				URL:     info.URL,
				Headers: info.HTTPHeaders,
			},
		})
	}

	if len(variants) == 0 {
		return nil, fmt.Errorf("no downloadable formats in yt-dlp output")
	}
	return variants, nil
}

// extractPlaylistID extracts the playlist ID from various URL formats
func extractPlaylistID(url string) string {
	if !strings.Contains(url, playlistParam) {
		return ""
	}
	parts := strings.Split(url, playlistParam)
	if len(parts) < 2 {
		return ""
	}
	id := parts[1]
	if strings.Contains(id, paramSeparator) {
		id = strings.Split(id, paramSeparator)[0]
	}
	return id
}

// firstLine trims a multi-line yt-dlp stderr dump to its first ERROR line
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR") {
			return line
		}
	}
	return strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
}
