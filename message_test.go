package onebot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_PlainText(t *testing.T) {
	msg := NewMessage(
		Text("look at "),
		Image("cat.png"),
		Text("this cat"),
	)
	assert.Equal(t, "look at this cat", msg.PlainText())
	assert.Empty(t, NewMessage(Image("cat.png")).PlainText())
}

func TestMessage_Builders(t *testing.T) {
	assert.Equal(t, Segment{Type: "text", Data: map[string]any{"text": "hi"}}, Text("hi"))
	assert.Equal(t, "123", At(123).Data["qq"])
	assert.Equal(t, "all", AtAll().Data["qq"])
	assert.Equal(t, "7", Reply(7).Data["id"])
	assert.Equal(t, "14", Face(14).Data["id"])

	msg := MessageText("hello").Append(At(42))
	require.Len(t, msg, 2)
	assert.Equal(t, "at", msg[1].Type)
}

func TestMessage_String(t *testing.T) {
	msg := NewMessage(Text("hey "), At(42))
	assert.Equal(t, "hey [CQ:at,qq=42]", msg.String())

	// Text with protocol-significant characters is escaped.
	assert.Equal(t, "a&amp;b&#91;c&#93;", NewMessage(Text("a&b[c]")).String())
}

func TestMessage_StringParamOrderStable(t *testing.T) {
	msg := NewMessage(Segment{
		Type: "image",
		Data: map[string]any{"file": "cat.png", "cache": "0", "type": "flash"},
	})

	want := "[CQ:image,cache=0,file=cat.png,type=flash]"
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, msg.String())
	}
}

func TestMessage_UnmarshalSegments(t *testing.T) {
	data := []byte(`[{"type":"text","data":{"text":"hi "}},{"type":"at","data":{"qq":"42"}}]`)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Len(t, msg, 2)
	assert.Equal(t, "hi ", msg[0].Data["text"])
	assert.Equal(t, "42", msg[1].Data["qq"])
}

func TestMessage_UnmarshalCQString(t *testing.T) {
	data := []byte(`"hi [CQ:at,qq=42] and [CQ:face,id=14]"`)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Len(t, msg, 4)
	assert.Equal(t, "hi ", msg[0].Data["text"])
	assert.Equal(t, "at", msg[1].Type)
	assert.Equal(t, "42", msg[1].Data["qq"])
	assert.Equal(t, " and ", msg[2].Data["text"])
	assert.Equal(t, "face", msg[3].Type)
}

func TestParseCQString_Escapes(t *testing.T) {
	msg := parseCQString("a&amp;b&#91;not a code&#93;")
	require.Len(t, msg, 1)
	assert.Equal(t, "a&b[not a code]", msg[0].Data["text"])

	// Escaped comma inside a value.
	msg = parseCQString("[CQ:text,text=a&#44;b]")
	require.Len(t, msg, 1)
	assert.Equal(t, "a,b", msg[0].Data["text"])
}

func TestParseCQString_Malformed(t *testing.T) {
	// Unterminated code stays literal text.
	msg := parseCQString("tail [CQ:at,qq=42")
	require.Len(t, msg, 2)
	assert.Equal(t, "tail ", msg[0].Data["text"])
	assert.Equal(t, "[CQ:at,qq=42", msg[1].Data["text"])

	// A key without a value stays literal text.
	msg = parseCQString("[CQ:at,novalue]")
	require.Len(t, msg, 1)
	assert.Equal(t, "text", msg[0].Type)
	assert.Equal(t, "[CQ:at,novalue]", msg[0].Data["text"])
}

func TestMessage_RoundTrip(t *testing.T) {
	original := NewMessage(Text("ping "), At(42))

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}
