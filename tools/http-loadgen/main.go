// http-loadgen is a tiny, dependency-free HTTP load generator for gatewayd.
// It reuses HTTP connections (keep-alive) and supports concurrency so it can
// drive the rate limiter hard enough to observe admission/blocking behavior
// without needing an external load-testing tool.
//
// Modes:
//   - single: send N requests as a single identity
//   - zipf:   approximate 80/20 skew (hot/cold) without PRNG: send the hot
//     identity 4/5 of the time
//
// Usage examples:
//
//	http-loadgen -base=http://127.0.0.1:8080 -mode=single -identity=alice -n=5000 -c=16
//	http-loadgen -base=http://127.0.0.1:8080 -mode=zipf -hot_identity=hot-1 -cold_identities=50 -n=8000 -c=16
//
// Notes:
//   - Identities are carried as an X-Identity: {"sub":"..."} header, matching
//     the gateway's "user" key-by mode (spec.md §4.E).
//   - Prints a one-line summary with duration, throughput, and how many
//     responses came back 429 (rate limited).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeSingle modeType = "single"
	modeZipf   modeType = "zipf"
)

func main() {
	var (
		base        = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host, e.g. http://127.0.0.1:8080")
		path        = flag.String("path", "/", "Request path to hit")
		modeS       = flag.String("mode", string(modeSingle), "Mode: single|zipf")
		identity    = flag.String("identity", "alice", "Identity for single mode")
		hotIdentity = flag.String("hot_identity", "hot-1", "Hot identity for zipf mode")
		coldN       = flag.Int("cold_identities", 50, "Number of cold identities to round-robin in zipf mode")
		N           = flag.Int("n", 5000, "Total requests to send")
		conc        = flag.Int("c", 8, "Number of concurrent workers")
		// Deterministic skew: hotEvery=5 means 4/5 go to the hot identity, 1/5 to a cold one.
		hotEvery = flag.Int("hot_every", 5, "Zipf-like skew period (all but 1 of each period go to hot; minimum 2)")
		// Timeouts & transport tuning
		timeout    = flag.Duration("timeout", 20*time.Second, "Overall timeout for the loadgen run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSingle && m != modeZipf {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want single|zipf)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if m == modeZipf {
		if *coldN <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_identities must be > 0 in zipf mode")
			os.Exit(2)
		}
		if *hotEvery < 2 { // at least 1 hot : 1 cold
			*hotEvery = 2
		}
	}

	baseURL := strings.TrimRight(*base, "/")
	p := *path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	fullURL := baseURL + p

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var done, limited int64

	worker := func(id, count int) {
		defer atomic.AddInt64(&done, int64(count))
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var sub string
			if m == modeSingle {
				sub = *identity
			} else {
				// 80/20-ish deterministic skew: (i+id)%hotEvery != 0 => hot identity
				if ((i + id) % *hotEvery) != 0 {
					sub = *hotIdentity
				} else {
					idx := ((i + id) % *coldN) + 1
					sub = fmt.Sprintf("cold-%d", idx)
				}
			}
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
			req.Header.Set("X-Identity", fmt.Sprintf(`{"sub":%q}`, sub))
			resp, err := client.Do(req)
			if err == nil {
				if resp.StatusCode == http.StatusTooManyRequests {
					atomic.AddInt64(&limited, 1)
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			} else {
				// Brief backoff on errors to avoid hot spinning
				time.Sleep(200 * time.Microsecond)
			}
		}
	}

	// Split N across conc workers
	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s N=%d c=%d go=%d Duration=%s Throughput=%.0f req/s RateLimited=%d\n",
		m, *N, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops, atomic.LoadInt64(&limited))
}
