package client

import (
	"github.com/pzhenzhou/elika-client/pkg/pipeline"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/samber/lo"
)

var (
	setCmd    = []byte("SET")
	getCmd    = []byte("GET")
	getSetCmd = []byte("GETSET")
	incrCmd   = []byte("INCR")
	incrByCmd = []byte("INCRBY")
	decrCmd   = []byte("DECR")
	decrByCmd = []byte("DECRBY")
	appendCmd = []byte("APPEND")
	mgetCmd   = []byte("MGET")
	msetCmd   = []byte("MSET")
	strlenCmd = []byte("STRLEN")
)

// SetParams holds the optional SET arguments. The zero value sets
// unconditionally with no expiry.
type SetParams struct {
	ex, px  int64
	nx, xx  bool
	keepTTL bool
}

func NewSetParams() *SetParams {
	return &SetParams{}
}

// Ex expires the key after seconds.
func (p *SetParams) Ex(seconds int64) *SetParams {
	p.ex, p.px = seconds, 0
	return p
}

// Px expires the key after milliseconds.
func (p *SetParams) Px(millis int64) *SetParams {
	p.px, p.ex = millis, 0
	return p
}

// Nx only sets a key that does not exist.
func (p *SetParams) Nx() *SetParams {
	p.nx, p.xx = true, false
	return p
}

// Xx only sets a key that already exists.
func (p *SetParams) Xx() *SetParams {
	p.xx, p.nx = true, false
	return p
}

func (p *SetParams) KeepTTL() *SetParams {
	p.keepTTL = true
	return p
}

func (p *SetParams) args() [][]byte {
	var out [][]byte
	switch {
	case p.ex > 0:
		out = append(out, []byte("EX"), respio.EncodeInt(p.ex))
	case p.px > 0:
		out = append(out, []byte("PX"), respio.EncodeInt(p.px))
	case p.keepTTL:
		out = append(out, []byte("KEEPTTL"))
	}
	if p.nx {
		out = append(out, []byte("NX"))
	}
	if p.xx {
		out = append(out, []byte("XX"))
	}
	return out
}

func (c *Client) Set(key, value string) (string, error) {
	return c.status(setCmd, respio.Encode(key), respio.Encode(value))
}

// SetWithParams returns common.ErrNil when an NX or XX condition kept the
// value from being set.
func (c *Client) SetWithParams(key, value string, params *SetParams) (string, error) {
	args := append([][]byte{respio.Encode(key), respio.Encode(value)}, params.args()...)
	return c.status(setCmd, args...)
}

// Get returns common.ErrNil for a missing key.
func (c *Client) Get(key string) (string, error) {
	return c.bulk(getCmd, respio.Encode(key))
}

func (c *Client) GetBytes(key []byte) ([]byte, error) {
	return execute(c, c.conn.GetBinaryBulkReply, getCmd, key)
}

// GetSet returns common.ErrNil when the key had no value.
func (c *Client) GetSet(key, value string) (string, error) {
	return c.bulk(getSetCmd, respio.Encode(key), respio.Encode(value))
}

func (c *Client) Incr(key string) (int64, error) {
	return c.integer(incrCmd, respio.Encode(key))
}

func (c *Client) IncrBy(key string, n int64) (int64, error) {
	return c.integer(incrByCmd, respio.Encode(key), respio.EncodeInt(n))
}

func (c *Client) Decr(key string) (int64, error) {
	return c.integer(decrCmd, respio.Encode(key))
}

func (c *Client) DecrBy(key string, n int64) (int64, error) {
	return c.integer(decrByCmd, respio.Encode(key), respio.EncodeInt(n))
}

func (c *Client) Append(key, value string) (int64, error) {
	return c.integer(appendCmd, respio.Encode(key), respio.Encode(value))
}

// MGet returns one entry per key, nil where the key is missing.
func (c *Client) MGet(keys ...string) ([]*string, error) {
	replies, err := execute(c, c.conn.GetObjectMultiBulkReply, mgetCmd, respio.EncodeMany(keys...)...)
	if err != nil {
		return nil, err
	}
	values := make([]*string, len(replies))
	for i, reply := range replies {
		if values[i], err = pipeline.StringOrNil(reply); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func (c *Client) MSet(pairs map[string]string) (string, error) {
	args := lo.FlatMap(lo.Entries(pairs), func(e lo.Entry[string, string], _ int) [][]byte {
		return [][]byte{respio.Encode(e.Key), respio.Encode(e.Value)}
	})
	return c.status(msetCmd, args...)
}

func (c *Client) Strlen(key string) (int64, error) {
	return c.integer(strlenCmd, respio.Encode(key))
}
