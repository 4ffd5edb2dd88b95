package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/client"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/redis/go-redis/v9"
)

var (
	Logger     = common.InitLogger().WithName("[Client-TEST]")
	ServerAddr = "127.0.0.1:6379"
	Username   = ""
	Password   = ""
	PoolSize   = 4
)

func GenerateKey(cmd string) string {
	timestamp := time.Now().UnixMilli()
	key := fmt.Sprintf("client_test_%s_%d", cmd, timestamp)
	return key
}

// ConnConfig describes ServerAddr with the configured credentials.
func ConnConfig() *common.ConnConfig {
	cfg := common.DefaultConnConfig()
	if err := cfg.ParseAddr(ServerAddr); err != nil {
		panic(err)
	}
	cfg.User = Username
	cfg.Password = Password
	cfg.ClientName = "client-test"
	return &cfg
}

// NewPool builds a client pool sized by PoolSize.
func NewPool(ctx context.Context) *client.ClientPool {
	poolCfg := common.DefaultPoolConfig()
	poolCfg.MaxTotal = PoolSize
	poolCfg.MaxIdle = PoolSize
	poolCfg.MaxWait = 5 * time.Second
	p, err := client.NewClientPool(ctx, ConnConfig(), &poolCfg)
	if err != nil {
		panic(err)
	}
	return p
}

// NewReference returns a go-redis client used to check what elika wrote.
func NewReference() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     ServerAddr,
		Username: Username,
		Password: Password,
	})
}

// Must panics with context when err is set.
func Must(err error, what string) {
	if err != nil {
		Logger.Error(err, "Check failed", "Step", what)
		panic(fmt.Sprintf("%s: %v", what, err))
	}
}

// Expect panics when got differs from want.
func Expect[T comparable](what string, got, want T) {
	if got != want {
		err := fmt.Errorf("%s: expected %v, got %v", what, want, got)
		Logger.Error(err, "Verification failed")
		panic(err)
	}
}
