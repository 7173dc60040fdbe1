// Package main is the entry point for the tenant schema evolution
// engine's admin CLI.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	serverURL string
	output    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schema-evolve-admin",
		Short: "Admin CLI for the tenant schema evolution engine",
		Long:  `A command-line tool for inspecting and driving the tenant schema evolution engine's control plane.`,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8090", "Control-plane server URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")

	rootCmd.AddCommand(
		versionCmd(),
		schemasCmd(),
		locksCmd(),
		executeCmd(),
		scheduleCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("schema-evolve-admin %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}

// --- schemas ---

func schemasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Manage the schema catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active schemas",
		RunE:  schemasList,
	}
	listCmd.Flags().String("table-name", "", "Filter by table name")
	listCmd.Flags().String("database-type", "", "Filter by database_type")
	listCmd.Flags().String("partition-type", "", "Filter by partition_type")

	detailCmd := &cobra.Command{
		Use:   "detail <table>",
		Short: "Show the active schema for a table",
		Args:  cobra.ExactArgs(1),
		RunE:  schemasDetail,
	}
	detailCmd.Flags().String("database-type", "main", "database_type")
	detailCmd.Flags().String("partition-type", "none", "partition_type")

	historyCmd := &cobra.Command{
		Use:   "history <table>",
		Short: "Show every version of a table (active and superseded)",
		Args:  cobra.ExactArgs(1),
		RunE:  schemasHistory,
	}
	historyCmd.Flags().String("database-type", "", "database_type")

	createCmd := &cobra.Command{
		Use:   "create <definition-file>",
		Short: "Register a new schema version from a JSON request body",
		Args:  cobra.ExactArgs(1),
		RunE:  schemasCreate,
	}

	cmd.AddCommand(listCmd, detailCmd, historyCmd, createCmd)
	return cmd
}

func schemasList(cmd *cobra.Command, args []string) error {
	q := make(map[string]string)
	for _, f := range []string{"table-name", "database-type", "partition-type"} {
		if v, _ := cmd.Flags().GetString(f); v != "" {
			q[strings.ReplaceAll(f, "-", "_")] = v
		}
	}
	var schemas []interface{}
	if err := doRequestInto("GET", "/schemas"+queryString(q), nil, &schemas); err != nil {
		return err
	}
	if output == "json" {
		return printJSON(schemas)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tDATABASE_TYPE\tPARTITION_TYPE\tVERSION\tACTIVE")
	for _, raw := range schemas {
		s := raw.(map[string]interface{})
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n", s["TableName"], s["DatabaseType"], s["PartitionType"], s["SchemaVersion"], s["IsActive"])
	}
	return w.Flush()
}

func schemasDetail(cmd *cobra.Command, args []string) error {
	dbType, _ := cmd.Flags().GetString("database-type")
	partType, _ := cmd.Flags().GetString("partition-type")
	q := map[string]string{"database_type": dbType, "partition_type": partType}
	var schema map[string]interface{}
	if err := doRequestInto("GET", "/schemas/"+args[0]+queryString(q), nil, &schema); err != nil {
		return err
	}
	return printJSON(schema)
}

func schemasHistory(cmd *cobra.Command, args []string) error {
	dbType, _ := cmd.Flags().GetString("database-type")
	q := map[string]string{}
	if dbType != "" {
		q["database_type"] = dbType
	}
	var history []interface{}
	if err := doRequestInto("GET", "/schemas/"+args[0]+"/history"+queryString(q), nil, &history); err != nil {
		return err
	}
	if output == "json" {
		return printJSON(history)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tACTIVE\tCREATED")
	for _, raw := range history {
		s := raw.(map[string]interface{})
		fmt.Fprintf(w, "%v\t%v\t%v\n", s["SchemaVersion"], s["IsActive"], s["CreatedAt"])
	}
	return w.Flush()
}

func schemasCreate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read definition file: %w", err)
	}
	var body interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("parse definition file: %w", err)
	}
	var created map[string]interface{}
	if err := doRequestInto("POST", "/schemas", body, &created); err != nil {
		return err
	}
	return printJSON(created)
}

// --- locks ---

func locksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Manage migration locks",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active locks",
		RunE:  locksList,
	}

	releaseCmd := &cobra.Command{
		Use:   "force-release <lock-key>",
		Short: "Forcibly release a lock regardless of holder",
		Args:  cobra.ExactArgs(1),
		RunE:  locksForceRelease,
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Flip stale locks inactive",
		RunE:  locksCleanup,
	}
	cleanupCmd.Flags().Int("age-seconds", 3600, "Age threshold in seconds")

	cmd.AddCommand(listCmd, releaseCmd, cleanupCmd)
	return cmd
}

func locksList(cmd *cobra.Command, args []string) error {
	var locks []interface{}
	if err := doRequestInto("GET", "/locks", nil, &locks); err != nil {
		return err
	}
	if output == "json" {
		return printJSON(locks)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LOCK_KEY\tLOCK_TYPE\tTABLE\tHOLDER\tSTART_TIME")
	for _, raw := range locks {
		l := raw.(map[string]interface{})
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n", l["LockKey"], l["LockType"], l["TableName"], l["LockHolder"], l["StartTime"])
	}
	return w.Flush()
}

func locksForceRelease(cmd *cobra.Command, args []string) error {
	var resp map[string]interface{}
	if err := doRequestInto("POST", "/locks/force-release", map[string]string{"lock_key": args[0]}, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func locksCleanup(cmd *cobra.Command, args []string) error {
	age, _ := cmd.Flags().GetInt("age-seconds")
	var resp map[string]interface{}
	if err := doRequestInto("POST", "/locks/cleanup", map[string]int{"age_seconds": age}, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

// --- execute ---

func executeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Drive reconciliation",
	}

	tableCmd := &cobra.Command{
		Use:   "table <table>",
		Short: "Migrate a single table across every normal tenant",
		Args:  cobra.ExactArgs(1),
		RunE:  executeTable,
	}
	tableCmd.Flags().String("database-type", "main", "database_type")
	tableCmd.Flags().String("partition-type", "", "partition_type")
	tableCmd.Flags().String("version", "", "Pin to a specific schema_version")

	allCmd := &cobra.Command{
		Use:   "all",
		Short: "Migrate every active schema across every normal tenant",
		RunE:  executeAll,
	}

	storeCmd := &cobra.Command{
		Use:   "store <store-id> <enterprise-id>",
		Short: "Migrate store-sharded tables for one store",
		Args:  cobra.ExactArgs(2),
		RunE:  executeStore,
	}

	cmd.AddCommand(tableCmd, allCmd, storeCmd)
	return cmd
}

func executeTable(cmd *cobra.Command, args []string) error {
	dbType, _ := cmd.Flags().GetString("database-type")
	partType, _ := cmd.Flags().GetString("partition-type")
	version, _ := cmd.Flags().GetString("version")
	body := map[string]string{"table_name": args[0], "database_type": dbType, "partition_type": partType, "schema_version": version}
	var resp map[string]interface{}
	if err := doRequestInto("POST", "/execute", body, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func executeAll(cmd *cobra.Command, args []string) error {
	var resp map[string]interface{}
	if err := doRequestInto("POST", "/execute-all", nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func executeStore(cmd *cobra.Command, args []string) error {
	body := map[string]string{"store_id": args[0], "enterprise_id": args[1]}
	var resp map[string]interface{}
	if err := doRequestInto("POST", "/execute-store", body, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

// --- schedule ---

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manually trigger the scheduler's background jobs",
	}

	runShardsCmd := &cobra.Command{
		Use:   "run-shards",
		Short: "Pre-create the current and next time shards now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]interface{}
			if err := doRequestInto("POST", "/table-schedule/manual-check", nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	runCleanupCmd := &cobra.Command{
		Use:   "run-cleanup",
		Short: "Run retention cleanup now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]interface{}
			if err := doRequestInto("POST", "/log-cleanup/manual", nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.AddCommand(runShardsCmd, runCleanupCmd)
	return cmd
}

// --- HTTP plumbing ---

func queryString(params map[string]string) string {
	var parts []string
	for k, v := range params {
		if v == "" {
			continue
		}
		parts = append(parts, k+"="+v)
	}
	if len(parts) == 0 {
		return ""
	}
	return "?" + strings.Join(parts, "&")
}

func doRequestInto(method, path string, body interface{}, out interface{}) error {
	url := strings.TrimSuffix(serverURL, "/") + path

	var reqBody strings.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = *strings.NewReader(string(jsonBody))
	}

	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req) // #nosec G704 -- admin CLI tool; URL is from the user-provided --server flag
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Message == "" {
			errResp.Message = "unknown error"
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
