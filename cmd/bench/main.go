package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"time"
)

type agentInfo struct {
	ID    string `json:"id"`
	Port  int    `json:"port"`
	Clock int64  `json:"clock"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "control panel address")
	n := flag.Int("n", 8, "agents to join")
	syncs := flag.Int("syncs", 100, "SYN requests to send")
	maxSeed := flag.Int64("seed", 1000, "upper bound of random join seeds")
	flag.Parse()

	client := &http.Client{Timeout: 60 * time.Second}

	// Bootstrap when the panel has no agents yet.
	agents, err := list(client, *addr)
	if err != nil {
		fail(err)
	}
	if len(agents) == 0 {
		if _, err := post(client, *addr+"/agents", nil); err != nil {
			fail(err)
		}
		if agents, err = list(client, *addr); err != nil {
			fail(err)
		}
	}

	start := time.Now()
	var joins []time.Duration
	for i := 0; i < *n; i++ {
		intro := agents[rand.Intn(len(agents))]
		body, _ := json.Marshal(map[string]any{"seed": rand.Int63n(*maxSeed + 1), "introducer_port": intro.Port})
		t := time.Now()
		raw, err := post(client, *addr+"/agents", body)
		if err != nil {
			fail(err)
		}
		joins = append(joins, time.Since(t))
		var a agentInfo
		if err := json.Unmarshal(raw, &a); err != nil {
			fail(err)
		}
		agents = append(agents, a)
	}
	joinDur := time.Since(start)

	start = time.Now()
	var rtts []time.Duration
	for i := 0; i < *syncs; i++ {
		target := agents[rand.Intn(len(agents))]
		t := time.Now()
		if _, err := post(client, *addr+"/agents/"+target.ID+"/sync", nil); err != nil {
			fmt.Fprintln(os.Stderr, "sync:", err)
			continue
		}
		rtts = append(rtts, time.Since(t))
	}
	syncDur := time.Since(start)

	final, err := list(client, *addr)
	if err != nil {
		fail(err)
	}
	lo, hi := final[0].Clock, final[0].Clock
	for _, a := range final {
		lo, hi = min(lo, a.Clock), max(hi, a.Clock)
	}

	fmt.Printf("Joined %d agents in %s (p50 %s, max %s)\n", len(joins), joinDur, percentile(joins, 50), percentile(joins, 100))
	fmt.Printf("Completed %d SYN in %s (%.2f ops/s, p50 %s, p99 %s)\n",
		len(rtts), syncDur, float64(len(rtts))/syncDur.Seconds(), percentile(rtts, 50), percentile(rtts, 99))
	fmt.Printf("Clock spread across %d agents: %d\n", len(final), hi-lo)
}

func list(client *http.Client, addr string) ([]agentInfo, error) {
	resp, err := client.Get(addr + "/info")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var info struct {
		Agents []agentInfo `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return info.Agents, nil
}

func post(client *http.Client, url string, body []byte) ([]byte, error) {
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s: %s: %s", url, resp.Status, bytes.TrimSpace(raw))
	}
	return raw, nil
}

func percentile(ds []time.Duration, p int) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	s := slices.Clone(ds)
	slices.Sort(s)
	i := (len(s) - 1) * p / 100
	return s[i].Round(time.Microsecond)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
