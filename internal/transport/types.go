package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	FromName  string
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Audio describes a locally materialized audio file for delivery.
type Audio struct {
	Path            string
	Title           string
	Performer       string
	DurationSeconds int
	ThumbPath       string // optional cover image
}

// Membership is the outcome of a chat-membership probe.
type Membership int

const (
	MembershipUnknown Membership = iota
	MembershipMember
	MembershipNonMember
)

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendAudio(ctx context.Context, to ChatTarget, a Audio) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// ChatMemberOf reports whether userID is a member of the given chat
	// (channel/group), identified by @username or numeric id string.
	ChatMemberOf(ctx context.Context, chat string, userID int64) (Membership, error)
}
