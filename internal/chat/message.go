// Package chat defines the persisted global chat message model.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cory-johannsen/duel/internal/auth"
)

// Kind is the content type of a chat message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindMusic Kind = "music"
)

// HistoryLimit is the number of messages returned by the history endpoint.
const HistoryLimit = 100

// MaxTextLength bounds the text of a single message, in bytes.
const MaxTextLength = 2000

// ErrEmptyMessage is returned for a draft with no text, image, or track.
var ErrEmptyMessage = errors.New("empty message")

// ErrMessageTooLong is returned for a draft whose text exceeds MaxTextLength.
var ErrMessageTooLong = errors.New("message too long")

// Draft is an unsaved message as submitted by a client.
type Draft struct {
	SenderID  string
	Text      string
	Image     string
	YouTubeID string
	Title     string
}

// Normalize trims whitespace and infers the message kind.
//
// Postcondition: Returns the cleaned draft and its kind, or ErrEmptyMessage /
// ErrMessageTooLong. A YouTube id makes a music message; otherwise an image
// makes an image message; otherwise the message is text.
func (d Draft) Normalize() (Draft, Kind, error) {
	d.Text = strings.TrimSpace(d.Text)
	d.Image = strings.TrimSpace(d.Image)
	d.YouTubeID = strings.TrimSpace(d.YouTubeID)
	d.Title = strings.TrimSpace(d.Title)

	if len(d.Text) > MaxTextLength {
		return d, "", ErrMessageTooLong
	}
	switch {
	case d.YouTubeID != "":
		return d, KindMusic, nil
	case d.Image != "":
		d.YouTubeID, d.Title = "", ""
		return d, KindImage, nil
	case d.Text != "":
		d.Title = ""
		return d, KindText, nil
	default:
		return d, "", ErrEmptyMessage
	}
}

// Sender is the public view of a message author.
type Sender struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar"`
	Role      string `json:"role,omitempty"`
}

// SenderFromIdentity builds a Sender from a connection identity.
func SenderFromIdentity(id auth.Identity) Sender {
	return Sender{ID: id.ID, Username: id.Username, AvatarURL: id.AvatarURL}
}

// Message is a stored chat message with its sender populated.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Text      *string   `json:"text"`
	Image     *string   `json:"image"`
	YouTubeID *string   `json:"youtubeId"`
	Title     *string   `json:"title"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists chat messages.
type Store interface {
	// Append saves d and returns it with its sender populated.
	Append(ctx context.Context, d Draft) (Message, error)
	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, limit int) ([]Message, error)
}

// OptionalString returns nil for an empty string.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
