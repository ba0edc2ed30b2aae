package model

// FetchDescriptor tells the transfer engine how to fetch a stream: the direct
// media URL plus any headers (cookies, referer) the remote host requires.
type FetchDescriptor struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// MediaVariant is one selectable quality/format rendition of a source media
// item. Immutable once produced by a resolver.
type MediaVariant struct {
	SourceURL       string          `json:"source_url"`
	Title           string          `json:"title,omitempty"`
	FormatID        string          `json:"format_id"`
	Container       string          `json:"container"`
	ResolutionLabel string          `json:"resolution_label,omitempty"`
	EstimatedSize   int64           `json:"estimated_size,omitempty"` // bytes, 0 if unknown
	Descriptor      FetchDescriptor `json:"descriptor"`
}
