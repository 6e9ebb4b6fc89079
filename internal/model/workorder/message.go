package workorder

import "time"

// AuthorKind identifies who wrote a dialog message.
type AuthorKind string

const (
	AuthorUser  AuthorKind = "user"
	AuthorAgent AuthorKind = "agent"
	AuthorBot   AuthorKind = "bot"
)

// ContentKind discriminates plain text from file references. The kind is fixed
// when the message is created, never inferred from the payload afterwards.
type ContentKind string

const (
	ContentText ContentKind = "text"
	ContentFile ContentKind = "file"
)

// Content is a tagged message body: either text or a file reference.
type Content struct {
	Kind    ContentKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	FileURL string      `json:"fileUrl,omitempty"`
}

// TextContent builds a plain text body.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// FileContent builds a file reference body.
func FileContent(url string) Content {
	return Content{Kind: ContentFile, FileURL: url}
}

// Message is one entry of a work order's dialog log. Entries are never
// deleted; a recalled message keeps its position with the flag set.
type Message struct {
	ID       string     `json:"id"`
	Time     time.Time  `json:"time"`
	Author   AuthorKind `json:"author"`
	AuthorID string     `json:"authorId"`
	Content  Content    `json:"content"`
	Recalled bool       `json:"recalled,omitempty"`
}
