package client

import (
	"time"

	"github.com/pzhenzhou/elika-client/pkg/respio"
)

var (
	delCmd     = []byte("DEL")
	existsCmd  = []byte("EXISTS")
	expireCmd  = []byte("EXPIRE")
	pexpireCmd = []byte("PEXPIRE")
	ttlCmd     = []byte("TTL")
	persistCmd = []byte("PERSIST")
	typeCmd    = []byte("TYPE")
	keysCmd    = []byte("KEYS")
)

// Del returns how many of keys existed.
func (c *Client) Del(keys ...string) (int64, error) {
	return c.integer(delCmd, respio.EncodeMany(keys...)...)
}

func (c *Client) Exists(keys ...string) (int64, error) {
	return c.integer(existsCmd, respio.EncodeMany(keys...)...)
}

// Expire reports whether the key existed. Durations under a second are sent
// as PEXPIRE.
func (c *Client) Expire(key string, ttl time.Duration) (bool, error) {
	cmd, n := expireCmd, int64(ttl/time.Second)
	if ttl%time.Second != 0 {
		cmd, n = pexpireCmd, ttl.Milliseconds()
	}
	v, err := c.integer(cmd, respio.Encode(key), respio.EncodeInt(n))
	return v == 1, err
}

// TTL returns the remaining seconds, -1 for a key without expiry and -2 for
// a missing key.
func (c *Client) TTL(key string) (int64, error) {
	return c.integer(ttlCmd, respio.Encode(key))
}

func (c *Client) Persist(key string) (bool, error) {
	v, err := c.integer(persistCmd, respio.Encode(key))
	return v == 1, err
}

// Type returns "none" for a missing key.
func (c *Client) Type(key string) (string, error) {
	return c.status(typeCmd, respio.Encode(key))
}

func (c *Client) Keys(pattern string) ([]string, error) {
	items, err := c.multiBulk(keysCmd, respio.Encode(pattern))
	return respio.DecodeMany(items), err
}
