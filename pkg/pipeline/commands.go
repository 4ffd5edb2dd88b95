package pipeline

import (
	"slices"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/samber/lo"
)

var (
	setCmd     = []byte("SET")
	getCmd     = []byte("GET")
	incrCmd    = []byte("INCR")
	incrByCmd  = []byte("INCRBY")
	delCmd     = []byte("DEL")
	existsCmd  = []byte("EXISTS")
	expireCmd  = []byte("EXPIRE")
	hsetCmd    = []byte("HSET")
	hgetCmd    = []byte("HGET")
	hgetAllCmd = []byte("HGETALL")
	lpushCmd   = []byte("LPUSH")
	rpushCmd   = []byte("RPUSH")
	lrangeCmd  = []byte("LRANGE")
	publishCmd = []byte("PUBLISH")
)

// Do queues an arbitrary command decoded with Any.
func (p *Pipeline) Do(cmd string, args ...string) *Response[any] {
	return Enqueue(p, Any, respio.Encode(cmd), respio.EncodeMany(args...)...)
}

func (p *Pipeline) Set(key, value string) *Response[string] {
	return Enqueue(p, Status, setCmd, respio.Encode(key), respio.Encode(value))
}

func (p *Pipeline) Get(key string) *Response[string] {
	return Enqueue(p, String, getCmd, respio.Encode(key))
}

func (p *Pipeline) Incr(key string) *Response[int64] {
	return Enqueue(p, Int64, incrCmd, respio.Encode(key))
}

func (p *Pipeline) IncrBy(key string, n int64) *Response[int64] {
	return Enqueue(p, Int64, incrByCmd, respio.Encode(key), respio.EncodeInt(n))
}

func (p *Pipeline) Del(keys ...string) *Response[int64] {
	return Enqueue(p, Int64, delCmd, respio.EncodeMany(keys...)...)
}

func (p *Pipeline) Exists(keys ...string) *Response[int64] {
	return Enqueue(p, Int64, existsCmd, respio.EncodeMany(keys...)...)
}

func (p *Pipeline) Expire(key string, ttl time.Duration) *Response[bool] {
	return Enqueue(p, Bool, expireCmd, respio.Encode(key), respio.EncodeInt(int64(ttl/time.Second)))
}

func (p *Pipeline) HSet(key string, fields map[string]string) *Response[int64] {
	args := append([][]byte{respio.Encode(key)}, flattenMap(fields)...)
	return Enqueue(p, Int64, hsetCmd, args...)
}

func (p *Pipeline) HGet(key, field string) *Response[string] {
	return Enqueue(p, String, hgetCmd, respio.Encode(key), respio.Encode(field))
}

func (p *Pipeline) HGetAll(key string) *Response[map[string]string] {
	return Enqueue(p, StringMap, hgetAllCmd, respio.Encode(key))
}

func (p *Pipeline) LPush(key string, values ...string) *Response[int64] {
	return Enqueue(p, Int64, lpushCmd, respio.EncodeMany(append([]string{key}, values...)...)...)
}

func (p *Pipeline) RPush(key string, values ...string) *Response[int64] {
	return Enqueue(p, Int64, rpushCmd, respio.EncodeMany(append([]string{key}, values...)...)...)
}

func (p *Pipeline) LRange(key string, start, stop int64) *Response[[]string] {
	return Enqueue(p, StringSlice, lrangeCmd, respio.Encode(key), respio.EncodeInt(start), respio.EncodeInt(stop))
}

func (p *Pipeline) Publish(channel, message string) *Response[int64] {
	return Enqueue(p, Int64, publishCmd, respio.Encode(channel), respio.Encode(message))
}

func (p *Pipeline) Ping() *Response[string] {
	return Enqueue(p, Status, respio.PingCmd)
}

// Watch must be queued before Multi; the server rejects it inside a frame.
func (p *Pipeline) Watch(keys ...string) *Response[string] {
	return Enqueue(p, Status, respio.WatchCmd, respio.EncodeMany(keys...)...)
}

func (p *Pipeline) Unwatch() *Response[string] {
	return Enqueue(p, Status, respio.UnwatchCmd)
}

// flattenMap turns fields into field/value arguments in key order.
func flattenMap(fields map[string]string) [][]byte {
	keys := lo.Keys(fields)
	slices.Sort(keys)
	return lo.FlatMap(keys, func(k string, _ int) [][]byte {
		return [][]byte{respio.Encode(k), respio.Encode(fields[k])}
	})
}
