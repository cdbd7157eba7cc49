package onebot

import (
	"encoding/json"
	"time"
)

// Post type discriminator values.
const (
	PostTypeMessage = "message"
	PostTypeNotice  = "notice"
	PostTypeRequest = "request"
	PostTypeMeta    = "meta_event"

	// PostTypeAny registers a dispatcher handler for every event type.
	PostTypeAny = "*"
)

// Message type values.
const (
	MessageTypePrivate = "private"
	MessageTypeGroup   = "group"
)

// Meta event type values.
const (
	MetaEventLifecycle = "lifecycle"
	MetaEventHeartbeat = "heartbeat"
)

// Event is an unsolicited occurrence pushed by the peer. It is one of
// *MessageEvent, *NoticeEvent, *RequestEvent, *MetaEvent or
// *GenericEvent. Events are immutable after classification.
type Event interface {
	// PostType returns the top-level discriminator.
	PostType() string
	// Self returns the id of the bot the event was delivered to.
	Self() int64
	// OccurredAt returns the peer-reported event time.
	OccurredAt() time.Time
}

type eventBase struct {
	Time   int64  `json:"time"`
	SelfID int64  `json:"self_id"`
	Post   string `json:"post_type"`
}

func (e *eventBase) PostType() string      { return e.Post }
func (e *eventBase) Self() int64           { return e.SelfID }
func (e *eventBase) OccurredAt() time.Time { return time.Unix(e.Time, 0) }

// Sender describes the account a message came from.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
	Card     string `json:"card,omitempty"`
	Role     string `json:"role,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Anonymous describes an anonymous group sender.
type Anonymous struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// File describes an uploaded or offline file in a notice.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// MessageEvent is a private or group chat message. GroupID is zero for
// private messages; MessageType is the authoritative tag.
type MessageEvent struct {
	eventBase
	MessageType string     `json:"message_type"`
	SubType     string     `json:"sub_type,omitempty"`
	MessageID   int64      `json:"message_id"`
	UserID      int64      `json:"user_id"`
	GroupID     int64      `json:"group_id,omitempty"`
	Message     Message    `json:"message"`
	RawMessage  string     `json:"raw_message,omitempty"`
	Sender      *Sender    `json:"sender,omitempty"`
	Anonymous   *Anonymous `json:"anonymous,omitempty"`
}

// IsGroup reports whether the message was sent in a group.
func (e *MessageEvent) IsGroup() bool { return e.MessageType == MessageTypeGroup }

// PlainText returns the concatenated text content of the message.
func (e *MessageEvent) PlainText() string { return e.Message.PlainText() }

// NoticeEvent is a peer-side state change (member joined, message
// recalled, file uploaded and so on), tagged by NoticeType.
type NoticeEvent struct {
	eventBase
	NoticeType string `json:"notice_type"`
	SubType    string `json:"sub_type,omitempty"`
	GroupID    int64  `json:"group_id,omitempty"`
	UserID     int64  `json:"user_id,omitempty"`
	OperatorID int64  `json:"operator_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
	File       *File  `json:"file,omitempty"`
}

// RequestEvent asks the bot to approve or reject something (friend add,
// group join). Flag is the opaque token passed back through
// Bot.ApproveRequest or Bot.RejectRequest.
type RequestEvent struct {
	eventBase
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Flag        string `json:"flag"`
}

// HeartbeatStatus is the liveness report carried by heartbeat events.
type HeartbeatStatus struct {
	Online bool `json:"online"`
	Good   bool `json:"good"`
}

// MetaEvent is a protocol lifecycle or heartbeat signal.
type MetaEvent struct {
	eventBase
	MetaEventType string           `json:"meta_event_type"`
	SubType       string           `json:"sub_type,omitempty"`
	Status        *HeartbeatStatus `json:"status,omitempty"`
	Interval      int64            `json:"interval,omitempty"` // milliseconds
}

// IsHeartbeat reports whether this is a heartbeat signal.
func (e *MetaEvent) IsHeartbeat() bool { return e.MetaEventType == MetaEventHeartbeat }

// GenericEvent carries an event with an unrecognized post_type so that
// forward-compatible peers do not break the client.
type GenericEvent struct {
	eventBase
	Raw json.RawMessage `json:"-"`
}

// classifyEvent parses a raw event frame into its typed variant.
// Unknown top-level discriminators become GenericEvent; missing
// required fields for a known variant fail with MalformedEventError.
func classifyEvent(data []byte) (Event, error) {
	var base eventBase
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Post {
	case PostTypeMessage:
		var ev MessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.MessageType == "" {
			return nil, &MalformedEventError{PostType: base.Post, Field: "message_type"}
		}
		if ev.UserID == 0 {
			return nil, &MalformedEventError{PostType: base.Post, Field: "user_id"}
		}
		return &ev, nil

	case PostTypeNotice:
		var ev NoticeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.NoticeType == "" {
			return nil, &MalformedEventError{PostType: base.Post, Field: "notice_type"}
		}
		return &ev, nil

	case PostTypeRequest:
		var ev RequestEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.RequestType == "" {
			return nil, &MalformedEventError{PostType: base.Post, Field: "request_type"}
		}
		if ev.Flag == "" {
			return nil, &MalformedEventError{PostType: base.Post, Field: "flag"}
		}
		return &ev, nil

	case PostTypeMeta:
		var ev MetaEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.MetaEventType == "" {
			return nil, &MalformedEventError{PostType: base.Post, Field: "meta_event_type"}
		}
		return &ev, nil

	default:
		return &GenericEvent{eventBase: base, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
