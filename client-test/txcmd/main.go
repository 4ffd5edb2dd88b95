package main

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/pzhenzhou/elika-client/client-test/testutils"
	"github.com/pzhenzhou/elika-client/pkg/client"
	"github.com/pzhenzhou/elika-client/pkg/pipeline"
)

func main() {
	flag.StringVar(&testutils.ServerAddr, "addr", "127.0.0.1:6379", "Server address")
	flag.StringVar(&testutils.Username, "username", "", "Username")
	flag.StringVar(&testutils.Password, "password", "", "Password")
	flag.IntVar(&testutils.PoolSize, "pool-size", 2, "Client pool size")
	flag.Parse()
	ctx := context.Background()
	p := testutils.NewPool(ctx)
	defer func() {
		_ = p.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go runTransactionClient(ctx, p, &wg)
	go runNormalClient(ctx, p, &wg)
	go runWatchedTransaction(ctx, p, &wg)
	wg.Wait()
	testutils.Logger.Info("Transaction cmd test completed", "PoolStats", p.Stats())
}

func runTransactionClient(ctx context.Context, p *client.ClientPool, wg *sync.WaitGroup) {
	defer wg.Done()
	c, err := p.GetResource(ctx)
	testutils.Must(err, "borrow transaction client")
	defer c.Close()

	key1 := testutils.GenerateKey("tx1")
	key2 := testutils.GenerateKey("tx2")
	expectedVal1 := "tx1_value1"
	expectedVal2 := "tx2_value2"
	_, err = c.Set(key1, "0")
	testutils.Must(err, "set key1")
	_, err = c.Set(key2, "0")
	testutils.Must(err, "set key2")

	testutils.Logger.Info("Starting transaction")
	pipe := c.Pipelined()
	_, err = pipe.Multi()
	testutils.Must(err, "MULTI")
	pipe.Set(key1, expectedVal1)
	pipe.Set(key2, expectedVal2)

	time.Sleep(2 * time.Second) // Simulate long transaction
	exec, err := pipe.Exec()
	testutils.Must(err, "EXEC")
	testutils.Must(pipe.Sync(), "sync transaction")
	testutils.Must(exec.Err(), "transaction result")

	val1, err := c.Get(key1)
	testutils.Must(err, "get key1")
	testutils.Expect("key1", val1, expectedVal1)
	val2, err := c.Get(key2)
	testutils.Must(err, "get key2")
	testutils.Expect("key2", val2, expectedVal2)
	testutils.Logger.Info("Transaction completed successfully",
		"key1", key1, "value1", val1,
		"key2", key2, "value2", val2)
}

func runNormalClient(ctx context.Context, p *client.ClientPool, wg *sync.WaitGroup) {
	defer wg.Done()
	time.Sleep(1 * time.Second) // Wait for transaction to start

	c, err := p.GetResource(ctx)
	testutils.Must(err, "borrow normal client")
	defer c.Close()
	key := testutils.GenerateKey("normal")
	_, err = c.Set(key, "normal_value")
	testutils.Must(err, "set normal key")
	val, err := c.Get(key)
	testutils.Must(err, "get normal key")
	testutils.Logger.Info("Normal command result", "key", key, "value", val)
}

// runWatchedTransaction changes a watched key from the reference client
// before EXEC, which must abort the transaction.
func runWatchedTransaction(ctx context.Context, p *client.ClientPool, wg *sync.WaitGroup) {
	defer wg.Done()
	c, err := p.GetResource(ctx)
	testutils.Must(err, "borrow watch client")
	defer c.Close()
	ref := testutils.NewReference()
	defer ref.Close()

	key := testutils.GenerateKey("watched")
	pipe := c.Pipelined()
	pipe.Watch(key)
	testutils.Must(pipe.Sync(), "WATCH")
	testutils.Must(ref.Set(ctx, key, "theirs", 0).Err(), "reference SET")

	_, err = pipe.Multi()
	testutils.Must(err, "MULTI")
	pipe.Set(key, "mine")
	exec, err := pipe.Exec()
	testutils.Must(err, "EXEC")
	testutils.Must(pipe.Sync(), "sync watched transaction")
	testutils.Expect[error]("watched transaction", exec.Err(), pipeline.ErrTransactionAborted)
	testutils.Expect("watched key", ref.Get(ctx, key).Val(), "theirs")
}
