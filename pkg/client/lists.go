package client

import (
	"time"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/respio"
)

var (
	lpushCmd  = []byte("LPUSH")
	rpushCmd  = []byte("RPUSH")
	lpopCmd   = []byte("LPOP")
	rpopCmd   = []byte("RPOP")
	llenCmd   = []byte("LLEN")
	lrangeCmd = []byte("LRANGE")
	blpopCmd  = []byte("BLPOP")
	brpopCmd  = []byte("BRPOP")
)

func (c *Client) LPush(key string, values ...string) (int64, error) {
	return c.integer(lpushCmd, append([][]byte{respio.Encode(key)}, respio.EncodeMany(values...)...)...)
}

func (c *Client) RPush(key string, values ...string) (int64, error) {
	return c.integer(rpushCmd, append([][]byte{respio.Encode(key)}, respio.EncodeMany(values...)...)...)
}

// LPop returns common.ErrNil for an empty list.
func (c *Client) LPop(key string) (string, error) {
	return c.bulk(lpopCmd, respio.Encode(key))
}

func (c *Client) RPop(key string) (string, error) {
	return c.bulk(rpopCmd, respio.Encode(key))
}

func (c *Client) LLen(key string) (int64, error) {
	return c.integer(llenCmd, respio.Encode(key))
}

func (c *Client) LRange(key string, start, stop int64) ([]string, error) {
	items, err := c.multiBulk(lrangeCmd, respio.Encode(key), respio.EncodeInt(start), respio.EncodeInt(stop))
	return respio.DecodeMany(items), err
}

// BLPop waits up to timeout (zero waits forever) for an element and returns
// the key it came from and the element. The read deadline is lifted for the
// wait and restored afterwards. A timeout yields common.ErrNil.
func (c *Client) BLPop(timeout time.Duration, keys ...string) (string, string, error) {
	return c.blockingPop(blpopCmd, timeout, keys)
}

func (c *Client) BRPop(timeout time.Duration, keys ...string) (string, string, error) {
	return c.blockingPop(brpopCmd, timeout, keys)
}

func (c *Client) blockingPop(cmd []byte, timeout time.Duration, keys []string) (string, string, error) {
	args := append(respio.EncodeMany(keys...), respio.EncodeFloat(timeout.Seconds()))
	if err := c.conn.SetTimeoutInfinite(); err != nil {
		return "", "", err
	}
	items, err := c.multiBulk(cmd, args...)
	if rerr := c.conn.RollbackTimeout(); err == nil {
		err = rerr
	}
	if err != nil {
		return "", "", err
	}
	if items == nil {
		return "", "", common.ErrNil
	}
	if len(items) != 2 {
		return "", "", common.ProtocolFault.New("%s returned %d elements, expected 2", cmd, len(items))
	}
	return string(items[0]), string(items[1]), nil
}
