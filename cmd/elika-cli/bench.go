package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/client"
	"github.com/pzhenzhou/elika-client/pkg/metrics"
	"github.com/pzhenzhou/elika-client/pkg/web_service"
	"github.com/samber/lo"
)

type BenchCmd struct {
	Requests    int    `help:"Total SET+GET pairs to run" name:"requests" short:"n" default:"10000"`
	Concurrency int    `help:"Goroutines borrowing from the pool" name:"concurrency" short:"c" default:"16"`
	KeyPrefix   string `help:"Prefix of the keys written" name:"key-prefix" default:"elika:bench:"`
	ValueSize   int    `help:"Bytes per value" name:"value-size" default:"64"`
	Hold        bool   `help:"Keep the stats server up after the run until interrupted" name:"hold" default:"false"`
}

func (b *BenchCmd) Run(ctx context.Context, cli *CLI) error {
	mc := cli.Metrics
	if !mc.EnableMetrics {
		mc.MetricsSinkType = string(metrics.InMemorySink)
	}
	collector, err := metrics.NewMetricsCollector(metrics.ConfigFrom(&mc))
	if err != nil {
		return err
	}
	defer collector.Shutdown()

	p, err := client.NewClientPool(ctx, &cli.Conn, &cli.Pool,
		client.WithPoolMetrics(collector), client.WithBreaker(&cli.Breaker))
	if err != nil {
		return err
	}
	defer p.Close()

	var web *web_service.WebServer
	if cli.WebServer.Addr != "" {
		web = web_service.NewWebServer(&cli.WebServer,
			&web_service.PoolStatsHandler{Pool: p},
			&web_service.SummaryHandler{Collector: collector},
			&web_service.PrometheusHandler{Collector: collector})
		if err := web.Start(cli.WebServer.Addr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			web.Shutdown(shutdownCtx)
		}()
	}

	start := time.Now()
	failed := b.run(ctx, p)
	elapsed := time.Since(start)
	fmt.Printf("%d requests, %d failed, %s, %.0f ops/s\n",
		2*b.Requests, failed, elapsed.Round(time.Millisecond), float64(2*b.Requests)/elapsed.Seconds())
	printSummary(collector.Summary())
	printPoolStats(p)

	if web != nil && b.Hold {
		fmt.Printf("stats served on http://%s, interrupt to exit\n", web.Addr())
		<-ctx.Done()
	}
	return nil
}

func (b *BenchCmd) run(ctx context.Context, p *client.ClientPool) int64 {
	value := string(make([]byte, b.ValueSize))
	var (
		next   atomic.Int64
		failed atomic.Int64
		wg     sync.WaitGroup
	)
	for w := 0; w < b.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				i := next.Add(1)
				if i > int64(b.Requests) {
					return
				}
				if err := b.once(ctx, p, fmt.Sprintf("%s%d", b.KeyPrefix, i%1024), value); err != nil {
					failed.Add(1)
					logger.V(1).Info("Bench request failed", "Reason", err.Error())
				}
			}
		}()
	}
	wg.Wait()
	return failed.Load()
}

func (b *BenchCmd) once(ctx context.Context, p *client.ClientPool, key, value string) error {
	c, err := p.GetResource(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Set(key, value); err != nil {
		return err
	}
	_, err = c.Get(key)
	return err
}

func printSummary(summary metrics.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "METRIC\tCOUNT\tMEAN\tMIN\tMAX")
	for _, key := range summary.Keys() {
		if s, ok := summary.Samples[key]; ok {
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", key, s.Count, s.Mean(), s.Min, s.Max)
			continue
		}
		if v, ok := summary.Counters[key]; ok {
			fmt.Fprintf(w, "%s\t%.0f\t\t\t\n", key, v)
		}
	}
}

func printPoolStats(p *client.ClientPool) {
	stats := p.Stats()
	rows := map[string]int64{
		"active":    stats.NumActive,
		"idle":      stats.NumIdle,
		"waiters":   stats.NumWaiters,
		"created":   stats.Created,
		"destroyed": stats.Destroyed,
		"timeouts":  stats.Timeouts,
	}
	names := lo.Keys(rows)
	sort.Strings(names)
	fmt.Print("pool:")
	for _, name := range names {
		fmt.Printf(" %s=%d", name, rows[name])
	}
	fmt.Printf(" mean_wait=%s max_wait=%s\n", stats.MeanBorrowWait, stats.MaxBorrowWait)
}
