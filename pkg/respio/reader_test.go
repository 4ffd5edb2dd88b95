package respio

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RespTestCase defines the structure for RESP protocol test cases
type RespTestCase struct {
	name     string
	input    []byte
	expected []*Reply
}

func TestReader_Read(t *testing.T) {
	// redis-cli> HSET myhash field1 "Hello"
	// redis-cli> HSET myhash field2 "World"
	// redis-cli> HMGET myhash field1 field2 nofield
	// 1) "Hello"
	// 2) "World"
	// 3) (nil)
	tests := []RespTestCase{
		{
			name:     "status",
			input:    []byte("+OK\r\n"),
			expected: []*Reply{StatusReply("OK")},
		},
		{
			name:     "error keeps class",
			input:    []byte("-WRONGTYPE Operation against a key holding the wrong kind of value\r\n"),
			expected: []*Reply{ErrorReply("WRONGTYPE Operation against a key holding the wrong kind of value")},
		},
		{
			name:     "integers",
			input:    []byte(":0\r\n:-42\r\n:9223372036854775807\r\n"),
			expected: []*Reply{IntReply(0), IntReply(-42), IntReply(9223372036854775807)},
		},
		{
			name:     "bulk, empty bulk and null bulk",
			input:    []byte("$5\r\nHello\r\n$0\r\n\r\n$-1\r\n"),
			expected: []*Reply{BulkStringReply("Hello"), BulkStringReply(""), NullBulkReply()},
		},
		{
			name:  "HMGET reply",
			input: []byte("*3\r\n$5\r\nHello\r\n$5\r\nWorld\r\n$-1\r\n"),
			expected: []*Reply{
				ArrayReply(BulkStringReply("Hello"), BulkStringReply("World"), NullBulkReply()),
			},
		},
		{
			name:     "empty and null array",
			input:    []byte("*0\r\n*-1\r\n"),
			expected: []*Reply{ArrayReply(), NullArrayReply()},
		},
		{
			name:  "nested exec reply",
			input: []byte("*3\r\n+OK\r\n:2\r\n*2\r\n$1\r\na\r\n-ERR bad\r\n"),
			expected: []*Reply{
				ArrayReply(StatusReply("OK"), IntReply(2), ArrayReply(BulkStringReply("a"), ErrorReply("ERR bad"))),
			},
		},
		{
			name:  "pubsub message frame",
			input: []byte("*3\r\n$7\r\nmessage\r\n$2\r\nch\r\n$5\r\nhello\r\n"),
			expected: []*Reply{
				ArrayReply(BulkStringReply("message"), BulkStringReply("ch"), BulkStringReply("hello")),
			},
		},
		{
			name:     "binary bulk with CRLF inside",
			input:    []byte("$4\r\n\x00\r\n\xff\r\n"),
			expected: []*Reply{BulkReply([]byte{0x00, '\r', '\n', 0xff})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewReaderFromBytes(tt.input)
			for _, expected := range tt.expected {
				result, err := reader.Read()
				require.NoError(t, err)
				assertReplyEqual(t, expected, result)
			}
			_, err := reader.Read()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestReader_ReadLongLine(t *testing.T) {
	msg := "ERR " + strings.Repeat("x", 3*DefaultBufferSize)
	reader := NewReaderFromBytes([]byte("-" + msg + "\r\n"))
	reply, err := reader.Read()
	require.NoError(t, err)
	assert.Equal(t, KindError, reply.Kind)
	assert.Equal(t, msg, string(reply.Str))
}

func TestReader_ProtocolFaults(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown marker", input: "?what\r\n"},
		{name: "resp3 marker", input: "_\r\n"},
		{name: "bad integer", input: ":12a\r\n"},
		{name: "missing CR", input: "+OK\n"},
		{name: "bulk without CRLF", input: "$2\r\nabXY"},
		{name: "bulk too short", input: "$10\r\nabc"},
		{name: "negative bulk length", input: "$-5\r\n"},
		{name: "truncated array", input: "*2\r\n:1\r\n"},
		{name: "bulk too large", input: "$999999999999\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReaderFromBytes([]byte(tt.input)).Read()
			require.Error(t, err)
			assert.True(t, common.IsProtocolFault(err), "expected protocol fault, got %v", err)
			assert.True(t, common.IsConnectionFault(err))
			assert.False(t, common.IsServerError(err))
		})
	}
}

func TestReader_ReadErrorLineIfPossible(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "error line", input: "-ERR max number of clients reached\r\n", expected: "ERR max number of clients reached"},
		{name: "not an error", input: "+OK\r\n", expected: ""},
		{name: "empty stream", input: "", expected: ""},
		{name: "truncated error", input: "-ERR no end", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewReaderFromBytes([]byte(tt.input))
			assert.Equal(t, tt.expected, reader.ReadErrorLineIfPossible())
		})
	}
}

func TestReply_ErrAndText(t *testing.T) {
	err := ErrorReply("WRONGTYPE Operation against a key").Err()
	require.Error(t, err)
	assert.True(t, common.IsServerError(err))
	assert.Equal(t, "WRONGTYPE", common.ServerErrorClass(err))

	assert.NoError(t, StatusReply("OK").Err())
	assert.Equal(t, "42", IntReply(42).Text())
	assert.Equal(t, "", NullBulkReply().Text())
	assert.True(t, NullArrayReply().IsNull())
	assert.Contains(t, ArrayReply(StatusReply("OK"), NullBulkReply()).String(), "(nil)")
}

func assertReplyEqual(t *testing.T, expected, actual *Reply) {
	t.Helper()
	require.NotNil(t, actual)
	assert.Equal(t, expected.Kind, actual.Kind)
	assert.Equal(t, expected.Null, actual.Null)
	assert.Equal(t, expected.Int, actual.Int)
	assert.True(t, bytes.Equal(expected.Str, actual.Str), "payload %q != %q", expected.Str, actual.Str)
	require.Equal(t, len(expected.Array), len(actual.Array))
	for i := range expected.Array {
		assertReplyEqual(t, expected.Array[i], actual.Array[i])
	}
}
