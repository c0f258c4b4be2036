// Loadtest opens many concurrent TCP connections against the dispatcher and
// reports throughput, latency percentiles and how replies were distributed.
//
// Usage:
//
//	go run ./scripts/loadtest -addr 127.0.0.1:8080 -concurrency 20 -requests 2000
//	go run ./scripts/loadtest -addr 127.0.0.1:8080 -payload "hello" -out summary.json
//
// Replies are grouped by their first 40 bytes, which is enough to tell the
// demo backends apart by name; the dispatcher's error reply is counted as a
// failure.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const errorReply = "Error: Could not connect to backend server."

type result struct {
	group    string
	duration time.Duration
	err      error
}

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8080", "dispatcher address")
		concurrency = flag.Int("concurrency", 10, "number of concurrent workers")
		requests    = flag.Int("requests", 100, "total number of connections to open")
		payload     = flag.String("payload", "", "bytes sent on every connection (empty = send nothing)")
		timeout     = flag.Duration("timeout", 10*time.Second, "per-connection deadline")
		outJSON     = flag.String("out", "", "write JSON summary to this file (optional)")
		verbose     = flag.Bool("v", false, "verbose per-connection logging to stdout")
	)
	flag.Parse()

	jobs := make(chan int)
	results := make(chan result, *concurrency)
	var wg sync.WaitGroup
	var sent atomic.Int32

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				sent.Add(1)
				r := exchange(*addr, *payload, *timeout)
				if *verbose {
					fmt.Printf("[%d] idx=%d group=%q dur=%v err=%v\n", workerID, idx, r.group, r.duration, r.err)
				}
				results <- r
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	groups := make(map[string]int)
	var latencies []time.Duration
	var failures int
	for r := range results {
		latencies = append(latencies, r.duration)
		switch {
		case r.err != nil:
			failures++
			groups["(transport error)"]++
		case r.group == errorReply:
			failures++
			groups["(error reply)"]++
		default:
			groups[r.group]++
		}
	}

	totalDuration := time.Since(testStart)
	throughput := float64(sent.Load()) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *addr)
	fmt.Printf("Requests: %d  Concurrency: %d\n", *requests, *concurrency)
	fmt.Printf("Total sent: %d  Success: %d  Failure: %d\n", sent.Load(), int(sent.Load())-failures, failures)
	fmt.Printf("Duration: %v  Throughput: %.2f conn/s\n", totalDuration, throughput)

	fmt.Println("\nReply distribution:")
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-42q -> %d\n", k, groups[k])
	}

	percentiles := summarize(latencies)
	if len(latencies) > 0 {
		fmt.Println("\nLatencies:")
		fmt.Printf("  samples=%d p50=%v p90=%v p95=%v p99=%v max=%v\n",
			len(latencies), percentiles["p50"], percentiles["p90"], percentiles["p95"], percentiles["p99"], percentiles["max"])
	}

	if *outJSON != "" {
		report := map[string]any{
			"target":         *addr,
			"requests":       *requests,
			"concurrency":    *concurrency,
			"total_sent":     sent.Load(),
			"failure":        failures,
			"duration_ms":    totalDuration.Milliseconds(),
			"throughput_cps": throughput,
			"groups":         groups,
		}
		latencyMs := make(map[string]float64, len(percentiles))
		for k, v := range percentiles {
			latencyMs[k+"_ms"] = float64(v.Microseconds()) / 1000.0
		}
		report["latency"] = latencyMs

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failures > 0 {
		os.Exit(2)
	}
}

// exchange performs one connection: optional write, then read until the
// dispatcher closes.
func exchange(addr, payload string, timeout time.Duration) result {
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return result{duration: time.Since(start), err: err}
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if payload != "" {
		if _, err := conn.Write([]byte(payload)); err != nil {
			return result{duration: time.Since(start), err: err}
		}
	}

	reply, err := io.ReadAll(conn)
	r := result{duration: time.Since(start), err: err}
	if err == nil {
		r.group = group(string(reply))
	}
	return r
}

func group(reply string) string {
	if reply == errorReply {
		return reply
	}

	// demo backends put their name first: {"backend":"alpha",...} or "alpha: ..."
	var ticket struct {
		Backend string `json:"backend"`
	}
	if json.Unmarshal([]byte(reply), &ticket) == nil && ticket.Backend != "" {
		return ticket.Backend
	}
	if name, _, ok := strings.Cut(reply, ": "); ok {
		return name
	}
	if len(reply) > 40 {
		return reply[:40]
	}
	return reply
}

func summarize(latencies []time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration)
	if len(latencies) == 0 {
		return out
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pick := func(p float64) time.Duration {
		return sorted[int(float64(len(sorted)-1)*p)]
	}
	out["p50"] = pick(0.50)
	out["p90"] = pick(0.90)
	out["p95"] = pick(0.95)
	out["p99"] = pick(0.99)
	out["max"] = sorted[len(sorted)-1]
	return out
}
