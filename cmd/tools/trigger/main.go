package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Posts a sample opportunity to a running orchestrator, exercising the
// new-opportunity webhook end to end.
func main() {
	secret := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
	if secret == "" {
		fmt.Println("Missing WEBHOOK_SECRET environment variable")
		os.Exit(1)
	}

	baseURL := strings.TrimSpace(os.Getenv("ORCHESTRATOR_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}

	payload := `{
		"opportunity": {
			"source": "manual-trigger",
			"type": "saas",
			"title": "AI-assisted invoice reconciliation for small agencies",
			"description": "Agencies lose hours matching invoices to payments; nothing serves the 2-10 person shop.",
			"potential_revenue": 7500,
			"competition_level": "low"
		}
	}`

	req, err := http.NewRequest("POST", baseURL+"/webhook/new-opportunity", bytes.NewBufferString(payload))
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", secret)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n%s\n", resp.Status, body)
	if resp.StatusCode != http.StatusCreated {
		os.Exit(1)
	}
}
