package respio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_WriteCommand(t *testing.T) {
	tests := []struct {
		name     string
		cmd      string
		args     [][]byte
		expected string
	}{
		{
			name:     "SET k v",
			cmd:      "SET",
			args:     EncodeMany("k", "v"),
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n",
		},
		{
			name:     "no arguments",
			cmd:      "PING",
			expected: "*1\r\n$4\r\nPING\r\n",
		},
		{
			name:     "binary and empty arguments",
			cmd:      "SET",
			args:     [][]byte{{0x00, '\r', '\n'}, {}},
			expected: "*3\r\n$3\r\nSET\r\n$3\r\n\x00\r\n\r\n$0\r\n\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			require.NoError(t, w.WriteCommand([]byte(tt.cmd), tt.args...))
			assert.Equal(t, 0, buf.Len(), "nothing is written before flush")
			require.NoError(t, w.Flush())
			assert.Equal(t, tt.expected, buf.String())
			assert.Equal(t, tt.expected, string(AppendCommand(nil, []byte(tt.cmd), tt.args...)))
		})
	}
}

func TestWriter_CommandDecodesAsArray(t *testing.T) {
	args := [][]byte{[]byte("key"), {0xde, 0xad, 0xbe, 0xef}}
	reply, err := NewReaderFromBytes(AppendCommand(nil, []byte("GET"), args...)).Read()
	require.NoError(t, err)
	require.Equal(t, KindArray, reply.Kind)
	require.Len(t, reply.Array, 3)
	assert.Equal(t, []byte("GET"), reply.Array[0].Str)
	assert.Equal(t, args[0], reply.Array[1].Str)
	assert.Equal(t, args[1], reply.Array[2].Str)
}

func TestWriter_WriteReply(t *testing.T) {
	tests := []struct {
		name     string
		reply    *Reply
		expected string
	}{
		{name: "status", reply: StatusReply("OK"), expected: "+OK\r\n"},
		{name: "error", reply: ErrorReply("ERR unknown command"), expected: "-ERR unknown command\r\n"},
		{name: "integer", reply: IntReply(-7), expected: ":-7\r\n"},
		{name: "bulk", reply: BulkStringReply("v"), expected: "$1\r\nv\r\n"},
		{name: "empty bulk", reply: BulkStringReply(""), expected: "$0\r\n\r\n"},
		{name: "null bulk", reply: NullBulkReply(), expected: Nil},
		{name: "null array", reply: NullArrayReply(), expected: NilArray},
		{
			name:     "nested array",
			reply:    ArrayReply(StatusReply("OK"), ArrayReply(IntReply(1), NullBulkReply())),
			expected: "*2\r\n+OK\r\n*2\r\n:1\r\n$-1\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			require.NoError(t, w.WriteReply(tt.reply))
			require.NoError(t, w.Flush())
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestWriter_UnknownKind(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	assert.ErrorIs(t, w.WriteReply(&Reply{}), ErrInvalidSyntax)
}
