// Command sendevents floods one or more scoring listeners with synthetic
// PSS datagrams. Useful for load testing the pipeline end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Default configuration constants.
const (
	defaultEvents   = 10000
	defaultRate     = 1000 // datagrams per second per worker
	defaultWorkers  = 4
	defaultMatches  = 4
	defaultAthletes = 8
)

var eventCodes = []string{
	"pt", "pt", "pt", "pt", // points dominate real traffic
	"hl", "hl",
	"wg",
	"it",
	"ch",
	"br",
	"rw",
	"mw",
	"sc",
	"cs",
	"ck",
	"rd",
	"sy",
	"p1",  // deprecated alias, exercises the downgrade path
	"zz9", // unknown code, exercises the raw-retention path
}

func main() {
	var (
		targets  = flag.String("targets", "127.0.0.1:6000", "Comma-separated UDP listener addresses")
		events   = flag.Int("events", defaultEvents, "Total number of datagrams to send (0 = unlimited)")
		rate     = flag.Int("rate", defaultRate, "Datagrams per second per worker")
		workers  = flag.Int("workers", defaultWorkers, "Number of concurrent senders")
		matches  = flag.Int("matches", defaultMatches, "Number of distinct match ids")
		athletes = flag.Int("athletes", defaultAthletes, "Number of distinct athlete ids per match")
		duration = flag.Duration("duration", 0, "Stop after this long (0 = run until events are sent)")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	)
	flag.Parse()

	addrs := strings.Split(*targets, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var sent atomic.Int64
	var seq atomic.Int64

	budget := int64(*events)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(worker)))

			conns := make([]*net.UDPConn, 0, len(addrs))
			for _, addr := range addrs {
				udpAddr, err := net.ResolveUDPAddr("udp", addr)
				if err != nil {
					os.Stderr.WriteString("bad target " + addr + ": " + err.Error() + "\n")
					return
				}
				conn, err := net.DialUDP("udp", nil, udpAddr)
				if err != nil {
					os.Stderr.WriteString("dial " + addr + ": " + err.Error() + "\n")
					return
				}
				defer conn.Close()
				conns = append(conns, conn)
			}

			interval := time.Second / time.Duration(*rate)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				if budget > 0 && sent.Load() >= budget {
					return
				}
				payload := buildPayload(rng, *matches, *athletes, seq.Add(1))
				conn := conns[rng.Intn(len(conns))]
				if _, err := conn.Write([]byte(payload)); err != nil {
					os.Stderr.WriteString("send failed: " + err.Error() + "\n")
					continue
				}
				sent.Add(1)
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)
	total := sent.Load()
	fmt.Printf("sent %d datagrams to %s in %s (%.0f/s)\n",
		total, *targets, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
}

// buildPayload assembles a semicolon-delimited datagram for a random event
// code with plausible field values.
func buildPayload(rng *rand.Rand, matches, athletes int, seq int64) string {
	code := eventCodes[rng.Intn(len(eventCodes))]
	match := "M" + strconv.Itoa(rng.Intn(matches)+1)
	athlete := "A" + strconv.Itoa(rng.Intn(athletes)+1)

	var b strings.Builder
	b.WriteString(code)
	b.WriteString(";m=")
	b.WriteString(match)
	b.WriteString(";a=")
	b.WriteString(athlete)

	switch code {
	case "pt", "p1":
		b.WriteString(";v=")
		b.WriteString(strconv.Itoa(rng.Intn(5) + 1))
	case "hl":
		b.WriteString(";v=")
		b.WriteString(strconv.Itoa(rng.Intn(100) + 1))
	case "rd":
		b.WriteString(";r=")
		b.WriteString(strconv.Itoa(rng.Intn(3) + 1))
	case "mw":
		// match winner names the athlete only
	}

	b.WriteString(";seq=")
	b.WriteString(strconv.FormatInt(seq, 10))
	return b.String()
}
