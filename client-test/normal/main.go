package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pzhenzhou/elika-client/client-test/testutils"
	"github.com/pzhenzhou/elika-client/pkg/client"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/redis/go-redis/v9"
)

func multiT(ctx context.Context, c *client.Client, ref *redis.Client) {
	keyFoo := testutils.GenerateKey("multiT_foo")
	keyBar := testutils.GenerateKey("multiT_bar")
	p := c.Pipelined()
	_, err := p.Multi()
	testutils.Must(err, "MULTI")
	incrFoo := p.Incr(keyFoo)
	incrBar := p.Incr(keyBar)
	exec, err := p.Exec()
	testutils.Must(err, "EXEC")
	testutils.Must(p.Sync(), "sync transaction")
	testutils.Must(exec.Err(), "transaction result")
	testutils.Expect("incr foo", incrFoo.Val(), int64(1))
	testutils.Expect("incr bar", incrBar.Val(), int64(1))
	testutils.Expect("reference foo", ref.Get(ctx, keyFoo).Val(), "1")
}

func listT(ctx context.Context, c *client.Client, ref *redis.Client) {
	key := testutils.GenerateKey("listT")
	_, err := c.LPush(key, "world")
	testutils.Must(err, "LPUSH world")
	_, err = c.LPush(key, "hello")
	testutils.Must(err, "LPUSH hello")
	lrange, err := c.LRange(key, 0, -1)
	testutils.Must(err, "LRANGE")
	expected := ref.LRange(ctx, key, 0, -1).Val()
	testutils.Expect("LRANGE length", len(lrange), len(expected))
	for i, v := range lrange {
		testutils.Expect(fmt.Sprintf("LRANGE[%d]", i), v, expected[i])
	}
	testutils.Expect("LRANGE head", lrange[0], "hello")
}

func hsetT(ctx context.Context, c *client.Client, ref *redis.Client) {
	key := testutils.GenerateKey("hsetT")
	_, err := c.HSetMap(key, map[string]string{"field1": "Hello", "field2": "World"})
	testutils.Must(err, "HSET")
	val1, err := c.HGet(key, "field1")
	testutils.Must(err, "HGET field1")
	testutils.Expect("HGET field1", val1, "Hello")
	testutils.Expect("reference HGET field2", ref.HGet(ctx, key, "field2").Val(), "World")

	testutils.Must(ref.HSet(ctx, key, "field3", "!").Err(), "reference HSET")
	all, err := c.HGetAll(key)
	testutils.Must(err, "HGETALL")
	testutils.Expect("HGETALL size", len(all), 3)
}

func nilT(c *client.Client) {
	_, err := c.Get(testutils.GenerateKey("nilT"))
	testutils.Expect("GET missing", err, common.ErrNil)
}

func main() {
	flag.StringVar(&testutils.ServerAddr, "addr", "127.0.0.1:6379", "Server address")
	flag.StringVar(&testutils.Username, "username", "", "Username")
	flag.StringVar(&testutils.Password, "password", "", "Password")
	flag.Parse()
	ctx := context.Background()
	testutils.Logger.Info("Running client test", "ServerAddr", testutils.ServerAddr)

	p := testutils.NewPool(ctx)
	defer func() {
		_ = p.Close()
	}()
	ref := testutils.NewReference()
	defer func() {
		_ = ref.Close()
	}()

	c, err := p.GetResource(ctx)
	testutils.Must(err, "borrow client")
	defer func() {
		_ = c.Close()
	}()
	hsetT(ctx, c, ref)
	listT(ctx, c, ref)
	multiT(ctx, c, ref)
	nilT(c)
	testutils.Logger.Info("All tests passed successfully", "PoolStats", p.Stats())
}
