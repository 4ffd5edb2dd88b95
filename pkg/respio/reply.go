package respio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pzhenzhou/elika-client/pkg/common"
)

var (
	logger = common.InitLogger().WithName("resp")
)

// Kind is the shape of a decoded reply.
type Kind uint8

const (
	KindStatus Kind = iota + 1
	KindError
	KindInteger
	KindBulk
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulk:
		return "bulk"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Marker returns the leading wire byte of the kind.
func (k Kind) Marker() byte {
	switch k {
	case KindStatus:
		return RespStatus
	case KindError:
		return RespError
	case KindInteger:
		return RespInt
	case KindBulk:
		return RespString
	case KindArray:
		return RespArray
	default:
		return 0
	}
}

// Reply is one decoded RESP2 value. Str holds the payload of status, error
// and bulk replies, Int the value of an integer reply and Array the elements
// of an array reply. Null marks the absent bulk ($-1) and array (*-1) forms.
type Reply struct {
	Kind  Kind
	Str   []byte
	Int   int64
	Array []*Reply
	Null  bool
}

func StatusReply(s string) *Reply {
	return &Reply{Kind: KindStatus, Str: []byte(s)}
}

func ErrorReply(msg string) *Reply {
	return &Reply{Kind: KindError, Str: []byte(msg)}
}

func IntReply(n int64) *Reply {
	return &Reply{Kind: KindInteger, Int: n}
}

// BulkReply wraps b. A nil slice yields the null bulk reply.
func BulkReply(b []byte) *Reply {
	if b == nil {
		return NullBulkReply()
	}
	return &Reply{Kind: KindBulk, Str: b}
}

func BulkStringReply(s string) *Reply {
	return &Reply{Kind: KindBulk, Str: []byte(s)}
}

func NullBulkReply() *Reply {
	return &Reply{Kind: KindBulk, Null: true}
}

func ArrayReply(items ...*Reply) *Reply {
	if items == nil {
		items = []*Reply{}
	}
	return &Reply{Kind: KindArray, Array: items}
}

func NullArrayReply() *Reply {
	return &Reply{Kind: KindArray, Null: true}
}

func (r *Reply) IsNull() bool {
	return r == nil || r.Null
}

func (r *Reply) IsError() bool {
	return r != nil && r.Kind == KindError
}

// Err converts an error reply to a server error. Other kinds return nil.
func (r *Reply) Err() error {
	if !r.IsError() {
		return nil
	}
	return common.NewServerError(string(r.Str))
}

// Text returns the textual value of a scalar reply.
func (r *Reply) Text() string {
	if r.IsNull() {
		return ""
	}
	switch r.Kind {
	case KindStatus, KindError, KindBulk:
		return string(r.Str)
	case KindInteger:
		return strconv.FormatInt(r.Int, 10)
	default:
		return ""
	}
}

// String returns a string representation of the Reply
// Only for debugging purposes
func (r *Reply) String() string {
	if r == nil {
		return "(nil)"
	}
	switch r.Kind {
	case KindStatus:
		return fmt.Sprintf("Status: \"%s\"", string(r.Str))

	case KindError:
		return fmt.Sprintf("Error: %s", string(r.Str))

	case KindInteger:
		return fmt.Sprintf("Integer: %d", r.Int)

	case KindBulk:
		if r.Null {
			return "String: (nil)"
		}
		return fmt.Sprintf("String: \"%s\"", string(r.Str))

	case KindArray:
		if r.Null {
			return "Array: (nil)"
		}
		if len(r.Array) == 0 {
			return "Array: (empty)"
		}

		var b strings.Builder
		b.WriteString("Array:\n")
		for i, elem := range r.Array {
			elemStr := elem.String()
			lines := strings.Split(elemStr, "\n")
			b.WriteString(fmt.Sprintf("  %d) %s\n", i+1, lines[0]))
			for _, line := range lines[1:] {
				b.WriteString(fmt.Sprintf("     %s\n", line))
			}
		}
		return strings.TrimRight(b.String(), "\n")

	default:
		return fmt.Sprintf("(unknown kind: %d)", r.Kind)
	}
}
