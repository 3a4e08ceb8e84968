//go:build ignore

// probe-agents.go lists every alive agent in a running ARCP registry and
// checks whether its advertised endpoint actually answers.
//
// Run with: ARCP_URL=http://localhost:8001 go run scripts/probe-agents.go
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

const probeWorkers = 10

type agent struct {
	AgentID  string `json:"agent_id"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
}

type discoverPage struct {
	Agents []agent `json:"agents"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

type result struct {
	agent   agent
	status  int
	err     string
	latency time.Duration
}

func main() {
	baseURL := os.Getenv("ARCP_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}

	httpClient := &http.Client{Timeout: 8 * time.Second}

	agents, err := listAgents(httpClient, baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe-agents: %v\n", err)
		os.Exit(1)
	}
	if len(agents) == 0 {
		fmt.Println("no alive agents registered — nothing to probe")
		return
	}

	jobs := make(chan agent, len(agents))
	results := make(chan result, len(agents))

	var wg sync.WaitGroup
	for i := 0; i < probeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				results <- probe(httpClient, a)
			}
		}()
	}
	for _, a := range agents {
		jobs <- a
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var all []result
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].agent.AgentID < all[j].agent.AgentID
	})

	reachable := 0
	fmt.Printf("probed %d alive agents from %s\n\n", len(all), baseURL)
	for _, r := range all {
		switch {
		case r.err != "":
			fmt.Printf("  ✗ %-20s %s  (%s)\n", r.agent.AgentID, r.agent.Endpoint, r.err)
		default:
			reachable++
			fmt.Printf("  ✓ %-20s %s  %d in %dms\n",
				r.agent.AgentID, r.agent.Endpoint, r.status, r.latency.Milliseconds())
		}
	}
	fmt.Printf("\n%d/%d endpoints reachable\n", reachable, len(all))
}

// listAgents pages through /public/discover until every alive agent is seen.
func listAgents(client *http.Client, baseURL string) ([]agent, error) {
	var out []agent
	offset := 0
	for {
		resp, err := client.Get(fmt.Sprintf("%s/public/discover?limit=100&offset=%d", baseURL, offset))
		if err != nil {
			return nil, fmt.Errorf("discover: %w", err)
		}
		var page discoverPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode discover page: %w", err)
		}
		out = append(out, page.Agents...)
		offset += len(page.Agents)
		if offset >= page.Total || len(page.Agents) == 0 {
			return out, nil
		}
	}
}

func probe(client *http.Client, a agent) result {
	start := time.Now()
	resp, err := client.Get(a.Endpoint)
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{agent: a, err: msg, latency: latency}
	}
	resp.Body.Close()
	return result{agent: a, status: resp.StatusCode, latency: latency}
}
