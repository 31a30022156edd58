// voiceload replays synthetic turns against a running voice server and
// reports per-turn latency, for checking how the assistant bridge behaves
// under sustained sequential load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

type options struct {
	baseURL        string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultPrompts = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Respawned bool   `json:"respawned,omitempty"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceload: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voiceload: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS, turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voice server base URL")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 120000, "per-turn HTTP timeout in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "prompts separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultPrompts...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty prompts")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	client := &http.Client{Timeout: cfg.turnTimeout}

	var (
		sessionID string
		latencies []time.Duration
		respawns  int
	)
	for i := 0; i < cfg.turns; i++ {
		prompt := cfg.texts[i%len(cfg.texts)]

		start := time.Now()
		resp, err := sendTurn(client, cfg.baseURL, sessionID, prompt, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		elapsed := time.Since(start)
		latencies = append(latencies, elapsed)
		sessionID = resp.SessionID
		if resp.Respawned {
			respawns++
		}

		if cfg.verbose {
			fmt.Printf("turn %02d  %6dms  %s\n", i+1, elapsed.Milliseconds(), truncate(resp.Response, 60))
		}
		if cfg.interTurnDelay > 0 && i+1 < cfg.turns {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	report(latencies, respawns, sessionID)
	return nil
}

func sendTurn(client *http.Client, baseURL, sessionID, prompt string, timeout time.Duration) (chatResponse, error) {
	body, err := json.Marshal(chatRequest{SessionID: sessionID, Text: prompt})
	if err != nil {
		return chatResponse{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return chatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatResponse{}, err
	}
	return out, nil
}

func report(latencies []time.Duration, respawns int, sessionID string) {
	fmt.Printf("\nsession=%s turns=%d respawns=%d\n", sessionID, len(latencies), respawns)
	fmt.Printf("latency p50=%dms p90=%dms p99=%dms max=%dms\n",
		percentile(latencies, 50).Milliseconds(),
		percentile(latencies, 90).Milliseconds(),
		percentile(latencies, 99).Milliseconds(),
		percentile(latencies, 100).Milliseconds(),
	)
}

// percentile returns the p-th percentile using nearest-rank on a sorted copy.
func percentile(values []time.Duration, p int) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
