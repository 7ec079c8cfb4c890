package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Author identifies who a transcript message belongs to.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// MessageKind tags what a transcript message represents.
type MessageKind string

const (
	KindRegular      MessageKind = "regular"
	KindToolStart    MessageKind = "tool-start"
	KindToolProgress MessageKind = "tool-progress"
	KindToolResult   MessageKind = "tool-result"
	KindToolError    MessageKind = "tool-error"
)

// Message is one immutable entry of the conversation log. Ordering is
// append order; the log lives for one session and is cleared on teardown.
type Message struct {
	ID        string
	Text      string
	Author    Author
	Timestamp time.Time
	Image     []byte // optional PNG attachment
	Kind      MessageKind
}

func newMessage(author Author, text string, kind MessageKind) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Author:    author,
		Timestamp: time.Now(),
		Kind:      kind,
	}
}
