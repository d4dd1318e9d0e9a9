package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

var noKeepAlive = &http.Transport{DisableKeepAlives: true}

// apiClient serves one-shot calls; streamClient has no timeout so the SSE
// stream runs until the user interrupts.
var (
	apiClient    = &http.Client{Timeout: 120 * time.Second, Transport: noKeepAlive}
	streamClient = &http.Client{Transport: noKeepAlive}
)

var commands = map[string]func([]string){
	"run":    doRun,
	"route":  doRoute,
	"model":  doModels,
	"models": doModels,
	"dump":   doDump,
	"load":   doLoad,
	"health": func([]string) { doHealth() },
	"events": func([]string) { doEvents() },
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	name, args := os.Args[1], os.Args[2:]

	switch name {
	case "version", "--version", "-v":
		fmt.Printf("raeburnctl %s\n", version)
		return
	case "help", "--help", "-h":
		usageTo(os.Stdout)
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", name)
		usage()
		os.Exit(1)
	}
	cmd(args)
}

// loadEnvFile seeds the environment from ~/.raeburn/env so raeburnctl works
// without shell profile setup. Explicit environment variables win.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	f, err := os.Open(filepath.Join(home, ".raeburn", "env"))
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if os.Getenv(k) == "" {
			_ = os.Setenv(k, v)
		}
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `raeburnctl — CLI for the Raeburn routing service

Usage: raeburnctl <command> [arguments]

Environment:
  RAEBURN_URL     Base URL (default: http://localhost:8080)

  ~/.raeburn/env  Auto-sourced on startup. Explicit environment
                  variables take precedence.

Commands:
  run <input> [--role R] [--priority N]   Run the full pipeline for one task
  route <prompt> [--task T] [--limit N]   Route a prompt across all models
        [--first] [--sequential]
  models                                  List registry models with health
  models probe                            Health-probe every model
  dump [file]                             Export all memory (stdout or file)
  load <file>                             Import a memory dump ("-" = stdin)
  health                                  Show service health
  events                                  Stream real-time SSE events
  version                                 Show version
  help                                    Show this help

Examples:
  raeburnctl run "Summarize this quarter's revenue" --role copywriter
  raeburnctl route "What is 2+2?" --task math --first
  raeburnctl models probe
  raeburnctl dump backup.json
  raeburnctl load backup.json
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("RAEBURN_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func newReq(method, path string, body io.Reader) *http.Request {
	req, err := http.NewRequest(method, baseURL()+path, body)
	fatal(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// api performs one call, dying on transport errors. HTTP-level errors are
// left to readJSON so commands like health can render degraded responses.
func api(method, path string, body io.Reader) *http.Response {
	resp, err := apiClient.Do(newReq(method, path, body))
	fatal(err)
	return resp
}

func doGet(path string) map[string]any {
	resp := api("GET", path, nil)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp := api("POST", path, strings.NewReader(bodyJSON))
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: raeburnctl %s\n", usage)
		os.Exit(1)
	}
}

// stringFlag returns the value following --name, or "".
func stringFlag(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func intFlag(args []string, name string) int {
	n, _ := strconv.Atoi(stringFlag(args, name))
	return n
}

func boolFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

// --- Commands ---

func doRun(args []string) {
	requireArgs(args, 1, `run <input> [--role R] [--priority N]`)
	payload := map[string]any{"user_input": args[0]}
	if role := stringFlag(args[1:], "--role"); role != "" {
		payload["agent_role"] = role
	}
	if prio := intFlag(args[1:], "--priority"); prio > 0 {
		payload["priority"] = prio
	}
	body, _ := json.Marshal(payload)
	result := doPost("/v1/run", string(body))

	fmt.Printf("Session:   %v\n", result["session_id"])
	fmt.Printf("Agent:     %v\n", result["agent"])
	fmt.Printf("Model:     %v\n", result["model_used"])
	fmt.Printf("Score:     %s\n", fmtNum(result["score"]))
	fmt.Printf("Duration:  %s\n", fmtDuration(result["duration_ms"]))
	fmt.Printf("Mode:      %v\n", result["mode"])
	fmt.Println()
	fmt.Println(result["result"])
}

func doRoute(args []string) {
	requireArgs(args, 1, `route <prompt> [--task T] [--limit N] [--first] [--sequential]`)
	payload := map[string]any{"prompt": args[0]}
	rest := args[1:]
	if task := stringFlag(rest, "--task"); task != "" {
		payload["task"] = task
	}
	if limit := intFlag(rest, "--limit"); limit > 0 {
		payload["limit_models"] = limit
	}
	if boolFlag(rest, "--sequential") {
		payload["parallel"] = false
	}
	body, _ := json.Marshal(payload)

	if boolFlag(rest, "--first") {
		result := doPost("/v1/route_first", string(body))
		fmt.Printf("Model:     %v\n", result["model"])
		fmt.Printf("Score:     %s\n", fmtNum(result["score"]))
		fmt.Printf("Latency:   %s\n", fmtDuration(result["latency_ms"]))
		if e, _ := result["error"].(string); e != "" {
			fmt.Printf("Error:     %s\n", e)
		}
		fmt.Println()
		fmt.Println(result["content"])
		return
	}

	result := doPost("/v1/route", string(body))
	responses, _ := result["responses"].([]any)
	if len(responses) == 0 {
		fmt.Println("No responses.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tMODEL\tSCORE\tLATENCY\tERROR")
	for i, r := range responses {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		model, _ := m["model"].(string)
		errMsg, _ := m["error"].(string)
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			i+1, model, fmtNum(m["score"]), fmtDuration(m["latency_ms"]), errMsg)
	}
	_ = tw.Flush()

	// Winner's content in full below the table.
	if best, ok := responses[0].(map[string]any); ok {
		if content, _ := best["content"].(string); content != "" {
			fmt.Println()
			fmt.Println(content)
		}
	}
}

func doModels(args []string) {
	if len(args) > 0 && args[0] == "probe" {
		data := doPost("/v1/models/probe", "{}")
		results, _ := data["results"].(map[string]any)
		if len(results) == 0 {
			fmt.Println("No models to probe.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "MODEL\tPROBE")
		for name, ok := range results {
			state := "fail"
			if ok == true {
				state = "pass"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", name, state)
		}
		_ = tw.Flush()
		return
	}

	data := doGet("/v1/models")
	models, _ := data["models"].([]any)
	if len(models) == 0 {
		fmt.Println("No models registered.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODEL\tPROVIDER\tCOST $/1K\tSPEED TPS\tHEALTHY\tFAILURES\tLAST PROBE")
	for _, m := range models {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		name, _ := mm["name"].(string)
		provider, _ := mm["provider"].(string)
		cost := fmtCost(mm["cost_usd_per_1k"])
		speed := fmtNum(mm["speed_tps_estimate"])
		healthy := "yes"
		failures := "0"
		lastProbe := "-"
		if h, ok := mm["health"].(map[string]any); ok {
			if h["ok"] == false {
				healthy = "no"
			}
			failures = fmtNum(h["failure_count"])
			lastProbe = fmtTime(h["last_passed_health"])
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			name, provider, cost, speed, healthy, failures, lastProbe)
	}
	_ = tw.Flush()
}

func doDump(args []string) {
	data := doGet("/v1/memory/dump")
	out := prettyJSON(data)
	if len(args) > 0 {
		fatal(os.WriteFile(args[0], []byte(out+"\n"), 0o644))
		fmt.Printf("Dumped %s entries to %s\n", fmtNum(data["count"]), args[0])
		return
	}
	fmt.Println(out)
}

func doLoad(args []string) {
	requireArgs(args, 1, `load <file>  ("-" reads stdin)`)
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	fatal(err)
	result := doPost("/v1/memory/load", string(data))
	fmt.Printf("Loaded %s entries.\n", fmtNum(result["loaded"]))
}

func doHealth() {
	resp := api("GET", "/healthz", nil)
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	var h map[string]any
	_ = json.Unmarshal(data, &h)

	status := "unknown"
	if s, ok := h["status"].(string); ok {
		status = s
	}
	fmt.Printf("Server:   %s\n", baseURL())
	fmt.Printf("Status:   %s\n", status)
	fmt.Printf("Models:   %s\n", fmtNum(h["models"]))
	fmt.Printf("Durable:  %v\n", h["durable"] == true)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func doEvents() {
	resp, err := streamClient.Do(newReq("GET", "/v1/events", nil))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}

	fmt.Println("Watching events; Ctrl-C stops.")
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var evt map[string]any
		if json.Unmarshal([]byte(payload), &evt) != nil {
			continue
		}
		printEvent(evt)
	}
	if sc.Err() == nil {
		fmt.Println("Stream closed by server.")
	}
}

func printEvent(evt map[string]any) {
	evtType, _ := evt["type"].(string)
	ts := time.Now().Format("15:04:05")
	switch evtType {
	case "", "connected":
		return
	case "route_error", "pipeline_failed":
		model, _ := evt["model"].(string)
		errMsg, _ := evt["error_msg"].(string)
		fmt.Printf("[%s] %s  model=%s error=%s\n", ts, evtType, model, errMsg)
	case "maintenance":
		op, _ := evt["op"].(string)
		shard, _ := evt["shard"].(string)
		fmt.Printf("[%s] %s  op=%s shard=%s removed=%s\n", ts, evtType, op, shard, fmtNum(evt["removed"]))
	default:
		model, _ := evt["model"].(string)
		session, _ := evt["session_id"].(string)
		fmt.Printf("[%s] %s  model=%s session=%s latency=%s score=%s\n",
			ts, evtType, model, session, fmtDuration(evt["latency_ms"]), fmtNum(evt["score"]))
	}
}

// --- Formatting helpers ---

// fmtNum renders JSON numbers without a trailing .00 when they are whole.
func fmtNum(v any) string {
	f, ok := v.(float64)
	if !ok {
		if v == nil {
			return "-"
		}
		return fmt.Sprint(v)
	}
	if f == float64(int(f)) {
		return strconv.Itoa(int(f))
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func fmtCost(v any) string {
	switch f := v.(type) {
	case nil:
		return "-"
	case float64:
		if f == 0 {
			return "free"
		}
		return fmt.Sprintf("$%.4f", f)
	default:
		return fmt.Sprint(v)
	}
}

func fmtDuration(v any) string {
	f, ok := v.(float64)
	switch {
	case v == nil:
		return "-"
	case !ok:
		return fmt.Sprint(v)
	case f < 1000:
		return fmt.Sprintf("%.0fms", f)
	default:
		return fmt.Sprintf("%.1fs", f/1000)
	}
}

func fmtTime(v any) string {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			return "-"
		}
		return fmt.Sprint(v)
	}
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return "-"
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
	}
	return s
}
