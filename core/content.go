package core

// ContentPart represents a polymorphic segment of user message content.
// Concrete part types implement the unexported isContentPart marker enabling
// a closed set.
type ContentPart interface{ isContentPart() }

// TextContent is a plain text content segment.
type TextContent struct {
	Text string `json:"text"`
}

// isContentPart implements the ContentPart interface for TextContent.
func (TextContent) isContentPart() {}

// ImageContent is an image reference segment, either an external URL or
// inlined base64 data with a MIME type.
type ImageContent struct {
	URL      string `json:"url,omitempty"`      // External retrieval URL (if not inlined)
	Data     string `json:"data,omitempty"`     // Base64 encoded bytes (if inlined)
	MimeType string `json:"mimeType,omitempty"` // MIME type for inlined data
}

// isContentPart implements the ContentPart interface for ImageContent.
func (ImageContent) isContentPart() {}

// TextParts wraps plain strings as a content part slice. Convenience for the
// common text-only user message.
func TextParts(texts ...string) []ContentPart {
	parts := make([]ContentPart, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, TextContent{Text: t})
	}
	return parts
}
