// sparxctl - CLI tool for Sparx
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	serverURL string
	apiToken  string
	output    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "sparxctl",
		Short:   "Sparx CLI - Manage content automation workflows",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Sparx server URL")
	rootCmd.PersistentFlags().StringVarP(&apiToken, "token", "t", os.Getenv("SPARX_API_TOKEN"), "API token")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")

	workflowCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflows",
	}

	triggerCmd := &cobra.Command{
		Use:   "trigger [workflow-id]",
		Short: "Trigger a workflow execution",
		Args:  cobra.ExactArgs(1),
		RunE:  triggerWorkflow,
	}
	triggerCmd.Flags().StringToStringP("param", "p", nil, "Execution parameters (key=value)")

	workflowCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all workflows",
			RunE:  listWorkflows,
		},
		&cobra.Command{
			Use:   "get [workflow-id]",
			Short: "Get workflow status",
			Args:  cobra.ExactArgs(1),
			RunE:  getWorkflow,
		},
		triggerCmd,
		&cobra.Command{
			Use:   "enable [workflow-id]",
			Short: "Enable a workflow",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], true) },
		},
		&cobra.Command{
			Use:   "disable [workflow-id]",
			Short: "Disable a workflow",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], false) },
		},
	)

	execCmd := &cobra.Command{
		Use:   "execution",
		Short: "Manage executions",
	}

	listExecCmd := &cobra.Command{
		Use:   "list [workflow-id]",
		Short: "List executions for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE:  listExecutions,
	}
	listExecCmd.Flags().Int("limit", 20, "Maximum executions to list")
	listExecCmd.Flags().Bool("archived", false, "List archived executions")

	execCmd.AddCommand(
		listExecCmd,
		&cobra.Command{
			Use:   "get [execution-id]",
			Short: "Get execution details",
			Args:  cobra.ExactArgs(1),
			RunE:  getExecution,
		},
		&cobra.Command{
			Use:   "pause [execution-id]",
			Short: "Pause a scheduled execution",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return transition(args[0], "pause") },
		},
		&cobra.Command{
			Use:   "resume [execution-id]",
			Short: "Resume a paused execution",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return transition(args[0], "resume") },
		},
	)

	scheduleCmd := &cobra.Command{
		Use:   "schedule [platform] [content-type]",
		Short: "Get the optimal posting time",
		Args:  cobra.ExactArgs(2),
		RunE:  getSchedule,
	}
	scheduleCmd.Flags().String("date", "", "Target date (YYYY-MM-DD), defaults to today")

	analyticsCmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show engagement analytics",
		RunE:  getAnalytics,
	}
	analyticsCmd.Flags().String("platform", "", "Platform filter")
	analyticsCmd.Flags().Int("days", 30, "Window in days")

	generateCmd := &cobra.Command{
		Use:   "generate [platform]",
		Short: "Generate content and schedule it",
		Args:  cobra.ExactArgs(1),
		RunE:  generateContent,
	}
	generateCmd.Flags().String("content-type", "lifestyle", "Content type")
	generateCmd.Flags().Int("count", 1, "Number of items")
	generateCmd.Flags().Bool("no-schedule", false, "Skip scheduling")

	abtestCmd := &cobra.Command{
		Use:   "abtest",
		Short: "Manage timing A/B tests",
	}
	startABCmd := &cobra.Command{
		Use:   "start [platform] [content-type]",
		Short: "Start an A/B test",
		Args:  cobra.ExactArgs(2),
		RunE:  startABTest,
	}
	startABCmd.Flags().Int("days", 7, "Test duration in days")
	startABCmd.Flags().IntSlice("hours", nil, "Candidate hours (0-23)")
	abtestCmd.AddCommand(
		startABCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List A/B tests",
			RunE:  listABTests,
		},
	)

	rootCmd.AddCommand(
		workflowCmd,
		execCmd,
		scheduleCmd,
		analyticsCmd,
		generateCmd,
		abtestCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Get system status",
			RunE:  systemStatus,
		},
		&cobra.Command{
			Use:   "health",
			Short: "Run a health check",
			RunE:  healthCheck,
		},
		&cobra.Command{
			Use:   "export",
			Short: "Export configuration and learned timing data",
			RunE: func(cmd *cobra.Command, args []string) error {
				result, err := apiRequest("GET", "/api/v1/export", nil)
				if err != nil {
					return err
				}
				if output == "table" {
					output = "json"
				}
				printOutput(result["data"])
				return nil
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// API client

func apiRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	url := serverURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if success, ok := result["success"].(bool); !ok || !success {
		if errInfo, ok := result["error"].(map[string]interface{}); ok {
			return nil, fmt.Errorf("%s: %s", errInfo["code"], errInfo["message"])
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return result, nil
}

// Output helpers

func printOutput(data interface{}) {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.Encode(data)
	default:
		// Table format handled by specific commands
	}
}

func formatTime(v interface{}) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(v interface{}) string {
	id, _ := v.(string)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printWorkflowsTable(workflows []interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tSCHEDULE\tDEPENDS ON\tENABLED")

	for _, wf := range workflows {
		def := wf.(map[string]interface{})
		enabled := "no"
		if e, ok := def["enabled"].(bool); ok && e {
			enabled = "yes"
		}
		deps := "-"
		if d, ok := def["dependencies"].([]interface{}); ok && len(d) > 0 {
			deps = fmt.Sprint(d...)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def["id"], def["priority"], def["schedule"], deps, enabled)
	}
	w.Flush()
}

func printExecutionsTable(executions []interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTRIGGER\tRETRIES\tSTARTED\tENDED")

	for _, e := range executions {
		exec := e.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\t%s\n",
			shortID(exec["id"]),
			exec["status"],
			exec["trigger"],
			exec["retry_count"],
			formatTime(exec["start_time"]),
			formatTime(exec["end_time"]),
		)
	}
	w.Flush()
}

// Workflow commands

func listWorkflows(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/workflows", nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})
	workflows, _ := data["workflows"].([]interface{})

	if output == "table" {
		fmt.Printf("Total: %d workflows\n\n", len(workflows))
		printWorkflowsTable(workflows)
	} else {
		printOutput(workflows)
	}
	return nil
}

func getWorkflow(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/workflows/"+args[0], nil)
	if err != nil {
		return err
	}

	data := result["data"]
	if output != "table" {
		printOutput(data)
		return nil
	}

	st := data.(map[string]interface{})
	def := st["definition"].(map[string]interface{})
	fmt.Printf("ID:          %s\n", def["id"])
	fmt.Printf("Name:        %s\n", def["name"])
	fmt.Printf("Priority:    %s\n", def["priority"])
	fmt.Printf("Schedule:    %s\n", def["schedule"])
	fmt.Printf("Enabled:     %v\n", def["enabled"])
	fmt.Printf("Running:     %v\n", st["running"])
	fmt.Printf("Next Run:    %s\n", formatTime(st["next_run"]))
	if recent, ok := st["recent_executions"].([]interface{}); ok && len(recent) > 0 {
		fmt.Println()
		printExecutionsTable(recent)
	}
	return nil
}

func triggerWorkflow(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetStringToString("param")
	params := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = n
			continue
		}
		params[k] = v
	}

	result, err := apiRequest("POST", "/api/v1/workflows/"+args[0]+"/trigger", map[string]interface{}{"params": params})
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})
	fmt.Printf("Workflow triggered: execution %s\n", data["execution_id"])
	return nil
}

func setEnabled(workflowID string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	if _, err := apiRequest("POST", "/api/v1/workflows/"+workflowID+"/"+action, nil); err != nil {
		return err
	}
	fmt.Printf("Workflow %sd\n", action)
	return nil
}

// Execution commands

func listExecutions(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	archived, _ := cmd.Flags().GetBool("archived")

	path := fmt.Sprintf("/api/v1/workflows/%s/executions?limit=%d", args[0], limit)
	if archived {
		path += "&archived=true"
	}
	result, err := apiRequest("GET", path, nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})
	executions, _ := data["executions"].([]interface{})

	if output == "table" {
		fmt.Printf("Total: %d executions\n\n", len(executions))
		printExecutionsTable(executions)
	} else {
		printOutput(executions)
	}
	return nil
}

func getExecution(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/executions/"+args[0], nil)
	if err != nil {
		return err
	}

	data := result["data"]
	if output != "table" {
		printOutput(data)
		return nil
	}

	exec := data.(map[string]interface{})
	fmt.Printf("ID:         %s\n", exec["id"])
	fmt.Printf("Workflow:   %s\n", exec["workflow_id"])
	fmt.Printf("Status:     %s\n", exec["status"])
	fmt.Printf("Trigger:    %s\n", exec["trigger"])
	fmt.Printf("Retries:    %.0f\n", exec["retry_count"])
	fmt.Printf("Started:    %s\n", formatTime(exec["start_time"]))
	fmt.Printf("Ended:      %s\n", formatTime(exec["end_time"]))
	if e, ok := exec["error"].(string); ok && e != "" {
		fmt.Printf("Error:      %s\n", e)
	}
	if r, ok := exec["result"].(map[string]interface{}); ok && len(r) > 0 {
		b, _ := json.Marshal(r)
		fmt.Printf("Result:     %s\n", truncate(string(b), 200))
	}
	return nil
}

func transition(execID, action string) error {
	result, err := apiRequest("POST", "/api/v1/executions/"+execID+"/"+action, nil)
	if err != nil {
		return err
	}
	exec := result["data"].(map[string]interface{})
	fmt.Printf("Execution %s: %s\n", shortID(exec["id"]), exec["status"])
	return nil
}

// Timing commands

func getSchedule(cmd *cobra.Command, args []string) error {
	path := "/api/v1/schedule/" + args[0] + "/" + args[1]
	if date, _ := cmd.Flags().GetString("date"); date != "" {
		path += "?date=" + date
	}
	result, err := apiRequest("GET", path, nil)
	if err != nil {
		return err
	}

	data := result["data"]
	if output != "table" {
		printOutput(data)
		return nil
	}

	rec := data.(map[string]interface{})
	fmt.Printf("Optimal Time: %s\n", formatTime(rec["optimal_time"]))
	fmt.Printf("Confidence:   %s\n", rec["confidence"])
	fmt.Printf("Expected:     %.4f\n", rec["expected_engagement"])
	if reasons, ok := rec["reasoning"].([]interface{}); ok {
		for _, r := range reasons {
			fmt.Printf("  - %s\n", r)
		}
	}
	if alts, ok := rec["alternative_times"].([]interface{}); ok && len(alts) > 0 {
		fmt.Println("Alternatives:")
		for _, a := range alts {
			alt := a.(map[string]interface{})
			fmt.Printf("  %s  %.4f\n", formatTime(alt["time"]), alt["score"])
		}
	}
	return nil
}

func getAnalytics(cmd *cobra.Command, args []string) error {
	platform, _ := cmd.Flags().GetString("platform")
	days, _ := cmd.Flags().GetInt("days")

	result, err := apiRequest("GET", fmt.Sprintf("/api/v1/analytics?platform=%s&days=%d", platform, days), nil)
	if err != nil {
		return err
	}
	if output == "table" {
		output = "yaml"
	}
	printOutput(result["data"])
	return nil
}

func generateContent(cmd *cobra.Command, args []string) error {
	contentType, _ := cmd.Flags().GetString("content-type")
	count, _ := cmd.Flags().GetInt("count")
	noSchedule, _ := cmd.Flags().GetBool("no-schedule")
	autoSchedule := !noSchedule

	result, err := apiRequest("POST", "/api/v1/content/generate", map[string]interface{}{
		"platform":      args[0],
		"content_type":  contentType,
		"count":         count,
		"auto_schedule": autoSchedule,
	})
	if err != nil {
		return err
	}

	data := result["data"]
	if output != "table" {
		printOutput(data)
		return nil
	}

	res := data.(map[string]interface{})
	fmt.Printf("Generated %.0f items for %s\n", res["generated_content"], res["platform"])
	if slots, ok := res["scheduling"].([]interface{}); ok && len(slots) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTENT\tOPTIMAL TIME\tCONFIDENCE")
		for _, s := range slots {
			slot := s.(map[string]interface{})
			fmt.Fprintf(w, "%s\t%s\t%s\n", slot["content_id"], formatTime(slot["optimal_time"]), slot["confidence"])
		}
		w.Flush()
	}
	return nil
}

func startABTest(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")
	hours, _ := cmd.Flags().GetIntSlice("hours")

	result, err := apiRequest("POST", "/api/v1/abtests", map[string]interface{}{
		"platform":      args[0],
		"content_type":  args[1],
		"duration_days": days,
		"hours":         hours,
	})
	if err != nil {
		return err
	}

	test := result["data"].(map[string]interface{})
	fmt.Printf("A/B test started: %s (ends %s)\n", test["id"], formatTime(test["end_date"]))
	return nil
}

func listABTests(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/abtests", nil)
	if err != nil {
		return err
	}

	tests, _ := result["data"].([]interface{})
	if output != "table" {
		printOutput(tests)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLATFORM\tCONTENT\tSTATUS\tENDS")
	for _, t := range tests {
		test := t.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", test["id"], test["platform"], test["content_type"], test["status"], formatTime(test["end_date"]))
	}
	w.Flush()
	return nil
}

// System commands

func systemStatus(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/status", nil)
	if err != nil {
		return err
	}

	data := result["data"]
	if output != "table" {
		printOutput(data)
		return nil
	}

	status := data.(map[string]interface{})
	fmt.Printf("Running:    %v\n", status["running"])
	fmt.Printf("Uptime:     %s\n", status["uptime"])
	if orch, ok := status["orchestrator"].(map[string]interface{}); ok {
		fmt.Printf("Workflows:  %.0f (%.0f enabled)\n", orch["workflows"], orch["enabled_workflows"])
		fmt.Printf("Queue:      %.0f\n", orch["queue_depth"])
		fmt.Printf("In Flight:  %.0f\n", orch["in_flight"])
		if f, ok := orch["fault"].(string); ok && f != "" {
			fmt.Printf("Fault:      %s\n", f)
		}
	}
	return nil
}

func healthCheck(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/health", nil)
	if err != nil {
		return err
	}

	data := result["data"]
	if output != "table" {
		printOutput(data)
		return nil
	}

	report := data.(map[string]interface{})
	fmt.Printf("Status: %s\n\n", report["status"])
	if components, ok := report["components"].(map[string]interface{}); ok {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COMPONENT\tSTATUS")
		for name, st := range components {
			fmt.Fprintf(w, "%s\t%s\n", name, st)
		}
		w.Flush()
	}
	if issues, ok := report["issues"].([]interface{}); ok {
		for _, i := range issues {
			fmt.Printf("  ! %s\n", i)
		}
	}
	return nil
}

// Helpers

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
