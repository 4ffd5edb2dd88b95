package respio

import (
	"strconv"

	"github.com/samber/lo"
)

// Encode converts a string argument to its wire bytes.
func Encode(s string) []byte {
	return []byte(s)
}

func EncodeMany(strs ...string) [][]byte {
	return lo.Map(strs, func(s string, _ int) []byte {
		return []byte(s)
	})
}

func EncodeInt(n int64) []byte {
	return strconv.AppendInt(nil, n, 10)
}

func EncodeFloat(f float64) []byte {
	return strconv.AppendFloat(nil, f, 'f', -1, 64)
}

func Decode(b []byte) string {
	return string(b)
}

func DecodeMany(bs [][]byte) []string {
	return lo.Map(bs, func(b []byte, _ int) string {
		return string(b)
	})
}
