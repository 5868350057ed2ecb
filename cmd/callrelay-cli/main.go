package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	apiHost  string
	apiToken string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "callrelay-cli",
		Short: "CLI to administer the callrelay service",
		Long:  `A command line tool to inspect and manage the callrelay microservice remotely.`,
	}

	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:8080", "Base URL of the API (e.g. http://10.0.0.5:8080)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("CALLRELAY_TOKEN"), "JWT for protected endpoints (defaults to CALLRELAY_TOKEN)")

	// === LOGIN ===
	var loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print a JWT",
		Run:   runLogin,
	}
	loginCmd.Flags().String("user", "admin", "Admin username")
	loginCmd.Flags().String("pass", "", "Admin password (required)")

	// === STATE ===
	var stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Inspect reconciliation state",
	}

	var stateGetCmd = &cobra.Command{
		Use:   "get [callId]",
		Short: "Show stored state for a call",
		Args:  cobra.ExactArgs(1),
		Run:   runStateGet,
	}

	var stateClearCmd = &cobra.Command{
		Use:   "clear [callId]",
		Short: "Delete stored state for a call",
		Args:  cobra.ExactArgs(1),
		Run:   runStateClear,
	}

	stateCmd.AddCommand(stateGetCmd, stateClearCmd)

	// === DEDUPE ===
	var dedupeCmd = &cobra.Command{
		Use:   "dedupe",
		Short: "Inspect the duplicate-suppression gate",
		Run:   runDedupe,
	}
	dedupeCmd.Flags().String("crt", "", "crtObjectId of the callback")
	dedupeCmd.Flags().Int("customer", 0, "customerId of the callback")
	dedupeCmd.Flags().String("call", "", "callId of the callback")

	// === EVENTS ===
	var eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "List recent relay events",
		Run:   runEvents,
	}
	eventsCmd.Flags().Int("limit", 50, "Maximum number of events")

	// === HEALTH ===
	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		Run:   runHealth,
	}

	// === ROOT ===
	rootCmd.AddCommand(loginCmd, stateCmd, dedupeCmd, eventsCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// --- HANDLERS ---

func runLogin(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	pass, _ := cmd.Flags().GetString("pass")

	if pass == "" {
		fmt.Println("Error: --pass is required")
		return
	}

	body := map[string]string{"username": user, "password": pass}
	data, _ := json.Marshal(body)

	resp, err := http.Post(fmt.Sprintf("%s/api/v1/login", apiHost), "application/json", bytes.NewReader(data))
	if err != nil {
		fmt.Printf("Error connecting to API: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		fmt.Printf("API error: %s\n", resp.Status)
		return
	}

	var result map[string]string
	json.NewDecoder(resp.Body).Decode(&result)
	fmt.Println(result["token"])
	fmt.Fprintln(os.Stderr, "Export it with: export CALLRELAY_TOKEN=<token>")
}

func runStateGet(cmd *cobra.Command, args []string) {
	u := fmt.Sprintf("%s/api/v1/state?callId=%s", apiHost, url.QueryEscape(args[0]))
	body, ok := doGet(u)
	if !ok {
		return
	}

	var result struct {
		CallID string `json:"callId"`
		Found  bool   `json:"found"`
		State  struct {
			Phones           []string       `json:"phones"`
			StatusByIndex    map[int]string `json:"statusByIndex"`
			ConnectedByIndex map[int]bool   `json:"connectedByIndex"`
			LastDialIndex    int            `json:"lastDialIndex"`
			NumAttempts      int            `json:"numAttempts"`
		} `json:"state"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}

	if !result.Found {
		fmt.Printf("No state stored for call %s\n", result.CallID)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "IDX\tPHONE\tSTATUS\tCONNECTED")
	fmt.Fprintln(w, "---\t-----\t------\t---------")
	for i, phone := range result.State.Phones {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", i, phone, result.State.StatusByIndex[i], result.State.ConnectedByIndex[i])
	}
	w.Flush()
	fmt.Printf("Last dial index: %d, attempts: %d\n", result.State.LastDialIndex, result.State.NumAttempts)
}

func runStateClear(cmd *cobra.Command, args []string) {
	u := fmt.Sprintf("%s/api/v1/state/clear?callId=%s", apiHost, url.QueryEscape(args[0]))

	req, _ := http.NewRequest("POST", u, nil)
	setAuth(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		fmt.Printf("State for call %s cleared.\n", args[0])
	} else {
		fmt.Printf("API error: %s\n", resp.Status)
	}
}

func runDedupe(cmd *cobra.Command, args []string) {
	crt, _ := cmd.Flags().GetString("crt")
	customer, _ := cmd.Flags().GetInt("customer")
	call, _ := cmd.Flags().GetString("call")

	q := url.Values{}
	q.Set("crtObjectId", crt)
	q.Set("customerId", fmt.Sprintf("%d", customer))
	q.Set("callId", call)

	body, ok := doGet(fmt.Sprintf("%s/api/v1/dedupe?%s", apiHost, q.Encode()))
	if !ok {
		return
	}

	var result struct {
		Key    string `json:"key"`
		Found  bool   `json:"found"`
		Record *struct {
			Status    string `json:"status"`
			UpdatedAt string `json:"updatedAt"`
			Result    *struct {
				OK       bool   `json:"ok"`
				Status   string `json:"status"`
				HTTPCode int    `json:"http_code"`
			} `json:"result"`
		} `json:"record"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}

	fmt.Printf("Key: %s\n", result.Key)
	if !result.Found || result.Record == nil {
		fmt.Println("No dedup record found.")
		return
	}
	fmt.Printf("Status: %s\nUpdated: %s\n", result.Record.Status, result.Record.UpdatedAt)
	if result.Record.Result != nil {
		fmt.Printf("Upstream: ok=%v status=%s http=%d\n",
			result.Record.Result.OK, result.Record.Result.Status, result.Record.Result.HTTPCode)
	}
}

func runEvents(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	body, ok := doGet(fmt.Sprintf("%s/api/v1/events?limit=%d", apiHost, limit))
	if !ok {
		return
	}

	var events []map[string]interface{}
	if err := json.Unmarshal(body, &events); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tCHANNEL\tLABEL\tMESSAGE")
	fmt.Fprintln(w, "----\t-------\t-----\t-------")
	for _, e := range events {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", e["created_at"], e["channel"], e["label"], e["message"])
	}
	w.Flush()
}

func runHealth(cmd *cobra.Command, args []string) {
	resp, err := http.Get(fmt.Sprintf("%s/health", apiHost))
	if err != nil {
		fmt.Printf("Error connecting to API: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s: %s\n", resp.Status, bytes.TrimSpace(body))
}

// --- HELPERS ---

// doGet performs an authenticated GET and returns the body.
func doGet(u string) ([]byte, bool) {
	req, _ := http.NewRequest("GET", u, nil)
	setAuth(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error connecting to API: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("API error: %s %s\n", resp.Status, bytes.TrimSpace(body))
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		return nil, false
	}
	return body, true
}

func setAuth(req *http.Request) {
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
}
