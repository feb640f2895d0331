// conclavectl is a thin operator CLI for a running conclave gateway. Run
// submission and inspection go over the HTTP API; watch follows the run's
// event feed on the NATS bus.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"conclave/internal/natsbus"
	"github.com/nats-io/nats.go"
)

type apiError struct {
	Error string `json:"error"`
}

func apiRequest(method, path string, body any) ([]byte, error) {
	base := os.Getenv("CONCLAVE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := os.Getenv("CONCLAVE_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			return nil, fmt.Errorf("%s", ae.Error)
		}
		return nil, fmt.Errorf("api returned %s", resp.Status)
	}
	return data, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  conclavectl submit --protocol "..." --question "..." [--workers a,b] [--rounds N]`)
	fmt.Fprintln(os.Stderr, "  conclavectl list")
	fmt.Fprintln(os.Stderr, `  conclavectl get --id "..."`)
	fmt.Fprintln(os.Stderr, `  conclavectl cancel --id "..."`)
	fmt.Fprintln(os.Stderr, `  conclavectl watch --id "..."`)
	fmt.Fprintln(os.Stderr, "  conclavectl protocols")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "submit":
		args := parseArgs(rest)
		if args["protocol"] == "" || args["question"] == "" {
			fatal("--protocol and --question are required")
		}
		body := map[string]any{
			"protocol_id": args["protocol"],
			"question":    args["question"],
		}
		if args["workers"] != "" {
			body["workers"] = strings.Split(args["workers"], ",")
		}
		if args["rounds"] != "" {
			rounds, err := strconv.Atoi(args["rounds"])
			if err != nil {
				fatal("invalid --rounds: %v", err)
			}
			body["rounds"] = rounds
		}
		data, err := apiRequest("POST", "/api/runs", body)
		if err != nil {
			fatal("%v", err)
		}
		var resp struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			fatal("unmarshal response: %v", err)
		}
		fmt.Printf("Run submitted: %s\n", resp.RunID)

	case "list":
		data, err := apiRequest("GET", "/api/runs", nil)
		if err != nil {
			fatal("%v", err)
		}
		var runs []struct {
			ID         string `json:"id"`
			ProtocolID string `json:"protocol_id"`
			Status     string `json:"status"`
			Question   string `json:"question"`
		}
		if err := json.Unmarshal(data, &runs); err != nil {
			fatal("unmarshal response: %v", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return
		}
		for _, r := range runs {
			fmt.Printf("  %s  %-28s  %-20s  %s\n", r.ID, r.Status, r.ProtocolID, truncate(r.Question, 60))
		}

	case "get":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		data, err := apiRequest("GET", "/api/runs/"+args["id"], nil)
		if err != nil {
			fatal("%v", err)
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err != nil {
			fatal("format response: %v", err)
		}
		fmt.Println(pretty.String())

	case "cancel":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		if _, err := apiRequest("POST", "/api/runs/"+args["id"]+"/cancel", nil); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Run cancelling.")

	case "watch":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		if err := watchRun(args["id"]); err != nil {
			fatal("%v", err)
		}

	case "protocols":
		data, err := apiRequest("GET", "/api/protocols", nil)
		if err != nil {
			fatal("%v", err)
		}
		var protocols []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			MinWorkers  int    `json:"min_workers"`
			CostTier    string `json:"cost_tier"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(data, &protocols); err != nil {
			fatal("unmarshal response: %v", err)
		}
		for _, p := range protocols {
			fmt.Printf("  %-20s  min %d workers, %s cost\n      %s\n", p.ID, p.MinWorkers, p.CostTier, p.Description)
		}

	default:
		fatal("unknown command: %s", command)
	}
}

// watchRun subscribes to the run's event topic and prints events as they
// arrive, until interrupted or the terminal run_complete event shows up.
func watchRun(runID string) error {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer client.Close()

	done := make(chan struct{})
	sub, err := client.Subscribe(natsbus.TopicRunEvents(runID), func(msg *nats.Msg) {
		var ev struct {
			Seq     uint64         `json:"seq"`
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		fmt.Printf("[%4d] %-16s %s\n", ev.Seq, ev.Type, summarizePayload(ev.Payload))
		if ev.Type == "run_complete" {
			close(done)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Watching run %s (ctrl-c to stop)\n", runID)
	select {
	case <-done:
	case <-sigCh:
	}
	return nil
}

func summarizePayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return truncate(string(data), 120)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
