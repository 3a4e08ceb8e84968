// cmd/seed — enrolls a set of demo agents against a running ARCP server so
// local development has something to discover and search.
//
// Running twice is safe: re-registering an alive agent with the same key is
// accepted and leaves the record in place.
//
// Usage:
//
// Each agent needs its own pre-shared key: a key binds to exactly one agent.
//
//	go run ./cmd/seed
//	ARCP_URL=http://localhost:8001 AGENT_KEYS=key-one,key-two,key-three go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arcp-io/arcp/pkg/client"
)

const defaultURL = "http://localhost:8001"

// demoAgents is the seed set. Endpoints are placeholders; nothing probes them.
var demoAgents = []client.AgentRegistration{
	{
		AgentID:           "demo-weather",
		Name:              "Weather Agent",
		AgentType:         "assistant",
		Endpoint:          "https://weather.demo.arcp.io",
		ContextBrief:      "provides current conditions, forecasts, and severe weather alerts by location",
		Capabilities:      []string{"weather", "forecast", "alerts"},
		Owner:             "demo@arcp.io",
		Version:           "1.0.0",
		CommunicationMode: "remote",
	},
	{
		AgentID:           "demo-translator",
		Name:              "Translator Agent",
		AgentType:         "assistant",
		Endpoint:          "https://translate.demo.arcp.io",
		ContextBrief:      "translates text between major languages with glossary support",
		Capabilities:      []string{"translate", "detect-language"},
		Owner:             "demo@arcp.io",
		Version:           "1.2.0",
		CommunicationMode: "remote",
		LanguageSupport:   []string{"en", "de", "fr", "ja"},
	},
	{
		AgentID:           "demo-summarizer",
		Name:              "Summarizer Agent",
		AgentType:         "tool",
		Endpoint:          "https://summarize.demo.arcp.io",
		ContextBrief:      "condenses long documents and web pages into short summaries",
		Capabilities:      []string{"summarize", "extract"},
		Owner:             "demo@arcp.io",
		Version:           "0.9.1",
		CommunicationMode: "hybrid",
		MaxTokens:         4096,
	},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	baseURL := os.Getenv("ARCP_URL")
	if baseURL == "" {
		baseURL = defaultURL
	}
	keys := splitKeys(os.Getenv("AGENT_KEYS"))
	if len(keys) < len(demoAgents) {
		return fmt.Errorf("AGENT_KEYS must list at least %d comma-separated keys, got %d", len(demoAgents), len(keys))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fmt.Printf("seeding %d demo agents into %s\n", len(demoAgents), baseURL)

	for i, reg := range demoAgents {
		reg.PublicKey = demoPublicKey(reg.AgentID)

		// Every agent gets its own client: tokens are per-agent.
		c := client.New(baseURL)
		if err := c.RequestTempToken(ctx, reg.AgentID, reg.AgentType, keys[i]); err != nil {
			return fmt.Errorf("temp token for %s: %w", reg.AgentID, err)
		}
		resp, err := c.Register(ctx, &reg)
		if err != nil {
			return fmt.Errorf("register %s: %w", reg.AgentID, err)
		}
		fmt.Printf("  %-18s %s\n", reg.AgentID, resp.Outcome)

		// A plausible starting metrics record so weighted search has signal.
		success := 0.97
		rep := 3.5
		requests := int64(120)
		if _, err := c.UpdateMetrics(ctx, reg.AgentID, &client.MetricsUpdate{
			SuccessRate:     &success,
			ReputationScore: &rep,
			TotalRequests:   &requests,
		}); err != nil {
			return fmt.Errorf("metrics for %s: %w", reg.AgentID, err)
		}
	}

	fmt.Println("done — try: curl " + baseURL + "/public/discover")
	return nil
}

// demoPublicKey fabricates a key-shaped string; the registry only checks
// length, actual key material is the agents' concern.
func demoPublicKey(agentID string) string {
	return strings.Repeat(agentID+"-", 64/len(agentID)+1)[:64]
}

func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
