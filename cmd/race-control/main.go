// Package main provides the race-control command line client. It talks to a
// running timingd over its HTTP API; it never touches the database directly.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	timestamp string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8090", "Base URL of the timing engine API")

	for _, c := range []*cobra.Command{startCmd, flagCmd} {
		c.Flags().StringVarP(&timestamp, "at", "t", "", "Override timestamp (RFC3339); defaults to now on the server")
	}

	rootCmd.AddCommand(startCmd, flagCmd, finishCmd, cancelCmd, recalculateCmd, invalidateCmd, classificationCmd)
}

var rootCmd = &cobra.Command{
	Use:   "race-control",
	Short: "Race direction commands for the timing engine",
	Long:  `Sends stage lifecycle transitions and result-maintenance commands to a running timing engine.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

var startCmd = &cobra.Command{
	Use:   "start <stage-id>",
	Short: "Start a stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postTransition(args[0], "start")
	},
}

var flagCmd = &cobra.Command{
	Use:   "flag <stage-id>",
	Short: "Show the flag on a running stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postTransition(args[0], "flag")
	},
}

var finishCmd = &cobra.Command{
	Use:   "finish <stage-id>",
	Short: "Finish a flagged stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postTransition(args[0], "finish")
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <stage-id>",
	Short: "Cancel a stage from any state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postTransition(args[0], "cancel")
	},
}

var recalculateCmd = &cobra.Command{
	Use:   "recalculate <stage-id>",
	Short: "Force a full classification recompute",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRequest(http.MethodPost, fmt.Sprintf("/api/v1/stages/%s/recalculate", args[0]), nil)
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <stage-id>",
	Short: "Bump the stage cache version and drop its cached results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRequest(http.MethodPost, fmt.Sprintf("/api/v1/stages/%s/cache/invalidate", args[0]), nil)
	},
}

var classificationCmd = &cobra.Command{
	Use:   "classification <stage-id>",
	Short: "Fetch the current classification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRequest(http.MethodGet, fmt.Sprintf("/api/v1/stages/%s/classification?detail=true", args[0]), nil)
	},
}

func postTransition(stageID, action string) error {
	var body io.Reader
	if timestamp != "" {
		if _, err := time.Parse(time.RFC3339, timestamp); err != nil {
			return fmt.Errorf("invalid --at timestamp: %w", err)
		}
		payload, _ := json.Marshal(map[string]string{"timestamp": timestamp})
		body = strings.NewReader(string(payload))
	}
	return doRequest(http.MethodPost, fmt.Sprintf("/api/v1/stages/%s/%s", stageID, action), body)
}

func doRequest(method, path string, body io.Reader) error {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = log.New(io.Discard, "", 0)

	req, err := retryablehttp.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// Pretty-print JSON responses, pass everything else through.
	var pretty map[string]interface{}
	if json.Unmarshal(out, &pretty) == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(pretty)
	} else {
		fmt.Println(string(out))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	return nil
}
