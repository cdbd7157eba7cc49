package onebot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Segment is one piece of a message: text, an image, a mention and so
// on. Type names and data keys follow the wire protocol.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Message is an ordered sequence of segments.
type Message []Segment

// Text creates a plain text segment.
func Text(text string) Segment {
	return Segment{Type: "text", Data: map[string]any{"text": text}}
}

// Face creates a built-in emoticon segment.
func Face(id int) Segment {
	return Segment{Type: "face", Data: map[string]any{"id": strconv.Itoa(id)}}
}

// Image creates an image segment from a file path or URL.
func Image(file string) Segment {
	return Segment{Type: "image", Data: map[string]any{"file": file}}
}

// Record creates a voice segment from a file path or URL.
func Record(file string) Segment {
	return Segment{Type: "record", Data: map[string]any{"file": file}}
}

// At creates a mention segment. Use AtAll to mention everyone.
func At(userID int64) Segment {
	return Segment{Type: "at", Data: map[string]any{"qq": strconv.FormatInt(userID, 10)}}
}

// AtAll creates a mention-everyone segment.
func AtAll() Segment {
	return Segment{Type: "at", Data: map[string]any{"qq": "all"}}
}

// Reply creates a reply-reference segment.
func Reply(messageID int64) Segment {
	return Segment{Type: "reply", Data: map[string]any{"id": strconv.FormatInt(messageID, 10)}}
}

// NewMessage builds a message from segments.
func NewMessage(segs ...Segment) Message {
	return Message(segs)
}

// MessageText builds a single-segment text message.
func MessageText(text string) Message {
	return Message{Text(text)}
}

// Append returns the message with segments added.
func (m Message) Append(segs ...Segment) Message {
	return append(m, segs...)
}

// PlainText concatenates the text content of all text segments.
// Matcher rules run over this derived text.
func (m Message) PlainText() string {
	var b strings.Builder
	for _, seg := range m {
		if seg.Type != "text" {
			continue
		}
		if t, ok := seg.Data["text"].(string); ok {
			b.WriteString(t)
		}
	}
	return b.String()
}

// String renders the message in CQ code form.
func (m Message) String() string {
	var b strings.Builder
	for _, seg := range m {
		if seg.Type == "text" {
			if t, ok := seg.Data["text"].(string); ok {
				b.WriteString(escapeText(t))
			}
			continue
		}
		b.WriteString("[CQ:")
		b.WriteString(seg.Type)
		keys := make([]string, 0, len(seg.Data))
		for k := range seg.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(",")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(escapeValue(fmt.Sprint(seg.Data[k])))
		}
		b.WriteString("]")
	}
	return b.String()
}

// UnmarshalJSON accepts both wire encodings of message content: an
// array of segments or a CQ-coded string.
func (m *Message) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = parseCQString(s)
		return nil
	}
	var segs []Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return err
	}
	*m = Message(segs)
	return nil
}

// parseCQString splits a CQ-coded string into segments. Text runs are
// unescaped; malformed CQ codes are kept as literal text.
func parseCQString(s string) Message {
	var msg Message
	for len(s) > 0 {
		start := strings.Index(s, "[CQ:")
		if start < 0 {
			msg = append(msg, Text(unescapeText(s)))
			break
		}
		if start > 0 {
			msg = append(msg, Text(unescapeText(s[:start])))
		}
		s = s[start:]
		end := strings.IndexByte(s, ']')
		if end < 0 {
			msg = append(msg, Text(unescapeText(s)))
			break
		}
		if seg, ok := parseCQCode(s[4:end]); ok {
			msg = append(msg, seg)
		} else {
			msg = append(msg, Text(unescapeText(s[:end+1])))
		}
		s = s[end+1:]
	}
	return msg
}

func parseCQCode(body string) (Segment, bool) {
	parts := strings.Split(body, ",")
	if parts[0] == "" {
		return Segment{}, false
	}
	seg := Segment{Type: parts[0], Data: map[string]any{}}
	for _, kv := range parts[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Segment{}, false
		}
		seg.Data[k] = unescapeValue(v)
	}
	return seg, true
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "[", "&#91;")
	return strings.ReplaceAll(s, "]", "&#93;")
}

func unescapeText(s string) string {
	s = strings.ReplaceAll(s, "&#93;", "]")
	s = strings.ReplaceAll(s, "&#91;", "[")
	return strings.ReplaceAll(s, "&amp;", "&")
}

func escapeValue(s string) string {
	return strings.ReplaceAll(escapeText(s), ",", "&#44;")
}

func unescapeValue(s string) string {
	return unescapeText(strings.ReplaceAll(s, "&#44;", ","))
}
