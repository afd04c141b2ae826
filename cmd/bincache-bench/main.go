// Command bincache-bench drives concurrent load against a running bincached
// server using an independent, unmodified binary-protocol client, proving
// wire compatibility rather than just exercising the in-process engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:11211", "bincached server address")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file")
	duration := flag.Int("duration", 5, "benchmark duration in seconds")
	clients := flag.Int("clients", 10, "number of concurrent clients")
	keys := flag.Int("keys", 10000, "number of keys")
	valueSize := flag.Int("size", 1024, "value size in bytes")
	compareRedis := flag.String("compare-redis", "", "optional Redis address to run the identical workload against for comparison")
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	value := make([]byte, *valueSize)
	keyList := make([]string, *keys)
	for i := range keyList {
		keyList[i] = fmt.Sprintf("key%d", i)
	}

	workload := time.Duration(*duration) * time.Second

	result := runMemcacheBench(*addr, keyList, value, *clients, workload)
	fmt.Printf("bincached (%s): %s\n", *addr, result)

	if *compareRedis != "" {
		redisResult := runRedisBench(*compareRedis, keyList, value, *clients, workload)
		fmt.Printf("redis     (%s): %s\n", *compareRedis, redisResult)
	}

	if *cpuprofile != "" {
		fmt.Printf("CPU profile written to: %s\n", *cpuprofile)
	}
}

type benchResult struct {
	ops     int64
	errs    int64
	elapsed time.Duration
}

func (r benchResult) String() string {
	return fmt.Sprintf("%d ops, %d errors, %v elapsed, %.2f ops/sec",
		r.ops, r.errs, r.elapsed, float64(r.ops)/r.elapsed.Seconds())
}

// runMemcacheBench populates addr via gomemcache.Client, the same
// independent client the corpus already depended on, then hammers it with
// concurrent Get/Set/Increment traffic for workload.
func runMemcacheBench(addr string, keys []string, value []byte, clients int, workload time.Duration) benchResult {
	client := memcache.New(addr)
	client.Timeout = 2 * time.Second

	for _, key := range keys {
		if err := client.Set(&memcache.Item{Key: key, Value: value}); err != nil {
			log.Printf("populate %s: %v", key, err)
		}
	}
	counterKey := "bench:counter"
	_ = client.Set(&memcache.Item{Key: counterKey, Value: []byte("0")})

	var ops, errs int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			idx := clientID
			for {
				select {
				case <-stop:
					return
				default:
				}
				key := keys[idx%len(keys)]
				switch idx % 10 {
				case 0:
					if err := client.Set(&memcache.Item{Key: key, Value: value}); err != nil {
						atomic.AddInt64(&errs, 1)
					}
				case 1:
					if _, err := client.Increment(counterKey, 1); err != nil {
						atomic.AddInt64(&errs, 1)
					}
				default:
					if _, err := client.Get(key); err != nil && err != memcache.ErrCacheMiss {
						atomic.AddInt64(&errs, 1)
					}
				}
				atomic.AddInt64(&ops, 1)
				idx++
			}
		}(i)
	}

	time.Sleep(workload)
	close(stop)
	wg.Wait()

	return benchResult{ops: atomic.LoadInt64(&ops), errs: atomic.LoadInt64(&errs), elapsed: time.Since(start)}
}

// runRedisBench runs the identical shaped Get/Set/Incr workload against a
// Redis endpoint, purely as a baseline comparison — never a second server
// protocol bincached itself speaks.
func runRedisBench(addr string, keys []string, value []byte, clients int, workload time.Duration) benchResult {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	for _, key := range keys {
		if err := client.Set(ctx, key, value, 0).Err(); err != nil {
			log.Printf("populate %s: %v", key, err)
		}
	}
	counterKey := "bench:counter"
	client.Set(ctx, counterKey, 0, 0)

	var ops, errs int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			idx := clientID
			for {
				select {
				case <-stop:
					return
				default:
				}
				key := keys[idx%len(keys)]
				switch idx % 10 {
				case 0:
					if err := client.Set(ctx, key, value, 0).Err(); err != nil {
						atomic.AddInt64(&errs, 1)
					}
				case 1:
					if err := client.Incr(ctx, counterKey).Err(); err != nil {
						atomic.AddInt64(&errs, 1)
					}
				default:
					if err := client.Get(ctx, key).Err(); err != nil && err != redis.Nil {
						atomic.AddInt64(&errs, 1)
					}
				}
				atomic.AddInt64(&ops, 1)
				idx++
			}
		}(i)
	}

	time.Sleep(workload)
	close(stop)
	wg.Wait()

	return benchResult{ops: atomic.LoadInt64(&ops), errs: atomic.LoadInt64(&errs), elapsed: time.Since(start)}
}
