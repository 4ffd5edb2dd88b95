package pipeline

import (
	"strconv"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/samber/lo"
)

func unexpected(reply *respio.Reply, want string) error {
	return common.DataFault.New("unexpected %s reply, expected %s", reply.Kind, want)
}

// String decodes a bulk or status reply. A null bulk yields common.ErrNil.
func String(reply *respio.Reply) (string, error) {
	switch reply.Kind {
	case respio.KindBulk, respio.KindStatus:
		if reply.Null {
			return "", common.ErrNil
		}
		return string(reply.Str), nil
	default:
		return "", unexpected(reply, "bulk")
	}
}

// StringOrNil decodes a bulk reply, nil for null.
func StringOrNil(reply *respio.Reply) (*string, error) {
	if reply.Kind == respio.KindBulk && reply.Null {
		return nil, nil
	}
	s, err := String(reply)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Bytes decodes a bulk reply, nil for null.
func Bytes(reply *respio.Reply) ([]byte, error) {
	switch reply.Kind {
	case respio.KindBulk, respio.KindStatus:
		return reply.Str, nil
	default:
		return nil, unexpected(reply, "bulk")
	}
}

func Int64(reply *respio.Reply) (int64, error) {
	switch reply.Kind {
	case respio.KindInteger:
		return reply.Int, nil
	case respio.KindBulk:
		if reply.Null {
			return 0, common.ErrNil
		}
		n, err := strconv.ParseInt(string(reply.Str), 10, 64)
		if err != nil {
			return 0, common.DataFault.Wrap(err, "bulk reply is not an integer")
		}
		return n, nil
	default:
		return 0, unexpected(reply, "integer")
	}
}

// Bool decodes an integer reply, true when it is 1.
func Bool(reply *respio.Reply) (bool, error) {
	n, err := Int64(reply)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Status decodes a status reply.
func Status(reply *respio.Reply) (string, error) {
	if reply.Kind != respio.KindStatus {
		return String(reply)
	}
	return string(reply.Str), nil
}

func Float64(reply *respio.Reply) (float64, error) {
	switch reply.Kind {
	case respio.KindInteger:
		return float64(reply.Int), nil
	case respio.KindBulk, respio.KindStatus:
		if reply.Null {
			return 0, common.ErrNil
		}
		f, err := strconv.ParseFloat(string(reply.Str), 64)
		if err != nil {
			return 0, common.DataFault.Wrap(err, "reply is not a float")
		}
		return f, nil
	default:
		return 0, unexpected(reply, "bulk")
	}
}

// StringSlice decodes an array of scalars. A null array yields nil and a
// null element yields "".
func StringSlice(reply *respio.Reply) ([]string, error) {
	if reply.Kind != respio.KindArray {
		return nil, unexpected(reply, "array")
	}
	if reply.Null {
		return nil, nil
	}
	out := make([]string, len(reply.Array))
	for i, item := range reply.Array {
		if item.IsError() {
			return nil, item.Err()
		}
		out[i] = item.Text()
	}
	return out, nil
}

// StringMap decodes a flat array of field/value pairs, as HGETALL replies.
func StringMap(reply *respio.Reply) (map[string]string, error) {
	items, err := StringSlice(reply)
	if err != nil {
		return nil, err
	}
	if len(items)%2 != 0 {
		return nil, common.DataFault.New("odd number of elements in a map reply: %d", len(items))
	}
	out := make(map[string]string, len(items)/2)
	for _, pair := range lo.Chunk(items, 2) {
		out[pair[0]] = pair[1]
	}
	return out, nil
}

// Any decodes a reply into plain Go values: string for status and bulk,
// int64, []any for arrays, nil for null and error for error replies nested
// in arrays.
func Any(reply *respio.Reply) (any, error) {
	switch reply.Kind {
	case respio.KindStatus:
		return string(reply.Str), nil
	case respio.KindError:
		return nil, reply.Err()
	case respio.KindInteger:
		return reply.Int, nil
	case respio.KindBulk:
		if reply.Null {
			return nil, nil
		}
		return string(reply.Str), nil
	case respio.KindArray:
		if reply.Null {
			return nil, nil
		}
		return lo.Map(reply.Array, func(item *respio.Reply, _ int) any {
			if item.IsError() {
				return item.Err()
			}
			v, _ := Any(item)
			return v
		}), nil
	default:
		return nil, unexpected(reply, "any")
	}
}
