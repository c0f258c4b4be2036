// Backend is a small HTTP server to put behind the dispatcher in local runs.
// GET returns a JSON ticket naming the backend, POST echoes the body back and
// /health answers the dispatcher's health checker.
//
// Usage:
//
//	go run ./scripts/backend -port 8081 -name alpha
//	go run ./scripts/backend -port 8082 -name beta -delay 200ms -unhealthy-after 1m
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// newUUID generates a random v4 UUID per RFC 4122.
func newUUID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hex.EncodeToString(b[0:4]),
		hex.EncodeToString(b[4:6]),
		hex.EncodeToString(b[6:8]),
		hex.EncodeToString(b[8:10]),
		hex.EncodeToString(b[10:16]),
	)
}

// Ticket is what a GET returns.
type Ticket struct {
	Backend string `json:"backend"`
	UUID    string `json:"uuid"`
	Served  int64  `json:"served"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "", "backend name reported in replies (default: backend-<port>)")
	delay := flag.Duration("delay", 0, "artificial latency added to every reply")
	unhealthyAfter := flag.Duration("unhealthy-after", 0, "start failing /health after this long (0 = never)")
	flag.Parse()

	if *name == "" {
		*name = fmt.Sprintf("backend-%d", *port)
	}

	started := time.Now()
	var served atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *delay > 0 {
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				return
			}
		}
		n := served.Add(1)

		switch r.Method {
		case http.MethodGet:
			log.Printf("request: method=%s from=%s", r.Method, r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Ticket{Backend: *name, UUID: newUUID(), Served: n})

		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			log.Printf("request: method=%s from=%s bytes=%d", r.Method, r.RemoteAddr, len(body))
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = fmt.Fprintf(w, "%s: ", *name)
			_, _ = w.Write(body)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if *unhealthyAfter > 0 && time.Since(started) > *unhealthyAfter {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting %s on %s", *name, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
