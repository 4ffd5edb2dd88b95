package client

import (
	"github.com/pzhenzhou/elika-client/pkg/pipeline"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/samber/lo"
)

var (
	hsetCmd    = []byte("HSET")
	hgetCmd    = []byte("HGET")
	hgetAllCmd = []byte("HGETALL")
	hdelCmd    = []byte("HDEL")
	hincrByCmd = []byte("HINCRBY")
	hlenCmd    = []byte("HLEN")
)

// HSet returns 1 when field is new and 0 when it was overwritten.
func (c *Client) HSet(key, field, value string) (int64, error) {
	return c.integer(hsetCmd, respio.Encode(key), respio.Encode(field), respio.Encode(value))
}

// HSetMap returns how many fields were added.
func (c *Client) HSetMap(key string, fields map[string]string) (int64, error) {
	args := [][]byte{respio.Encode(key)}
	for _, e := range lo.Entries(fields) {
		args = append(args, respio.Encode(e.Key), respio.Encode(e.Value))
	}
	return c.integer(hsetCmd, args...)
}

// HGet returns common.ErrNil for a missing key or field.
func (c *Client) HGet(key, field string) (string, error) {
	return c.bulk(hgetCmd, respio.Encode(key), respio.Encode(field))
}

// HGetAll returns an empty map for a missing key.
func (c *Client) HGetAll(key string) (map[string]string, error) {
	reply, err := c.one(hgetAllCmd, respio.Encode(key))
	if err != nil {
		return nil, err
	}
	return pipeline.StringMap(reply)
}

func (c *Client) HDel(key string, fields ...string) (int64, error) {
	args := append([][]byte{respio.Encode(key)}, respio.EncodeMany(fields...)...)
	return c.integer(hdelCmd, args...)
}

func (c *Client) HIncrBy(key, field string, n int64) (int64, error) {
	return c.integer(hincrByCmd, respio.Encode(key), respio.Encode(field), respio.EncodeInt(n))
}

func (c *Client) HLen(key string) (int64, error) {
	return c.integer(hlenCmd, respio.Encode(key))
}
