// seed pushes a small deploy-then-regression scenario into a running
// causeway instance so the incident flow can be exercised end to end:
// one deployment touching checkout, followed by an error burst and a
// latency signal a few minutes later.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

func main() {
	var baseURL string
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "causeway base URL")
	flag.Parse()

	now := time.Now().UTC()

	change := map[string]any{
		"timestamp":  now.Add(-4 * time.Minute).Format(time.RFC3339),
		"components": []string{"checkout", "payments"},
		"actor":      "deploy-bot",
		"kind":       "deploy",
		"ref":        "rev-42",
	}
	post(baseURL+"/api/v1/changes", change)

	signals := []map[string]any{
		{
			"type":        "error",
			"timestamp":   now.Add(-2 * time.Minute).Format(time.RFC3339),
			"source":      "datadog",
			"component":   "checkout",
			"severity":    "high",
			"description": "NullPointerException in CheckoutHandler.finalize",
		},
		{
			"type":        "error",
			"timestamp":   now.Add(-90 * time.Second).Format(time.RFC3339),
			"source":      "datadog",
			"component":   "checkout",
			"severity":    "high",
			"description": "NullPointerException in CheckoutHandler.finalize",
		},
		{
			"type":        "latency",
			"timestamp":   now.Add(-time.Minute).Format(time.RFC3339),
			"source":      "grafana",
			"component":   "checkout",
			"severity":    "medium",
			"description": "p99 latency above 2s on /checkout/confirm",
		},
	}
	for _, sig := range signals {
		post(baseURL+"/api/v1/signals", sig)
	}

	resp, err := http.Get(baseURL + "/api/v1/incidents")
	if err != nil {
		log.Fatalf("list incidents: %v", err)
	}
	defer resp.Body.Close()

	var listing struct {
		Data []struct {
			ID         string  `json:"id"`
			Title      string  `json:"title"`
			Severity   string  `json:"severity"`
			Status     string  `json:"status"`
			Confidence float64 `json:"confidence"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		log.Fatalf("decode incidents: %v", err)
	}
	for _, inc := range listing.Data {
		fmt.Printf("%s  %-10s %-10s confidence=%.2f  %s\n", inc.ID, inc.Severity, inc.Status, inc.Confidence, inc.Title)
	}
}

func post(url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: unexpected status %d", url, resp.StatusCode)
	}
	log.Printf("POST %s -> %d", url, resp.StatusCode)
}
