package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxMessageLen = 2000

var ErrMessageEmpty = errors.New("message empty")

// Message is a chat line in a room log. Never mutated after append.
type Message struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	UserName string `json:"userName"`
	Date     string `json:"date"`
}

func NewMessage(text, userName string, at time.Time) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrMessageEmpty
	}
	if len(text) > MaxMessageLen {
		text = text[:MaxMessageLen]
	}
	return Message{
		ID:       uuid.NewString(),
		Text:     text,
		UserName: userName,
		Date:     at.UTC().Format(time.RFC3339Nano),
	}, nil
}
