// Command nestor is the terminal client for the assistant server. It talks
// to the HTTP facade; it never touches tools or policies directly.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)
)

func main() {
	root := &cobra.Command{
		Use:           "nestor",
		Short:         "Talk to the Nestor assistant server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("NESTOR_SERVER", "http://localhost:8790"), "server base URL")
	root.PersistentFlags().StringVarP(&userID, "user", "u", envOr("NESTOR_USER", "default"), "principal to act as")

	root.AddCommand(
		askCmd(),
		execCmd(),
		pendingCmd(),
		confirmCmd(),
		watchCmd(),
		auditCmd(),
		contextCmd(),
		healthCmd(),
		statsCmd(),
	)

	if err := root.Execute(); err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func client() *apiClient { return newAPIClient(strings.TrimRight(serverURL, "/")) }

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text...>",
		Short: "Send a natural-language request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Success      bool     `json:"success"`
				Message      string   `json:"message"`
				ActionsTaken []string `json:"actions_taken"`
			}
			err := client().call("POST", "/command", map[string]any{
				"text":    strings.Join(args, " "),
				"user_id": userID,
			}, &resp)
			if err != nil {
				return err
			}

			if resp.Success {
				green.Println(resp.Message)
			} else {
				yellow.Println(resp.Message)
			}
			if len(resp.ActionsTaken) > 0 {
				faint.Printf("tools: %s\n", strings.Join(resp.ActionsTaken, ", "))
			}
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	var timeout int
	cmd := &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run a whitelisted command through the safety pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Success         bool   `json:"success"`
				Stdout          string `json:"stdout"`
				Stderr          string `json:"stderr"`
				ExitCode        int    `json:"exit_code"`
				CommandExecuted string `json:"command_executed"`
			}
			err := client().call("POST", "/exec", map[string]any{
				"command": args[0],
				"args":    args[1:],
				"timeout": timeout,
				"user_id": userID,
			}, &resp)
			if err != nil {
				return err
			}

			faint.Printf("$ %s\n", resp.CommandExecuted)
			if resp.Stdout != "" {
				fmt.Print(resp.Stdout)
			}
			if resp.Stderr != "" {
				red.Fprint(os.Stderr, resp.Stderr)
			}
			if !resp.Success {
				return fmt.Errorf("exit code %d", resp.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 30, "command timeout in seconds")
	return cmd
}

type pendingRequest struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	Action    string    `json:"action"`
	Risk      string    `json:"risk"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

func fetchPending() ([]pendingRequest, error) {
	var resp struct {
		Requests map[string]pendingRequest `json:"requests"`
	}
	if err := client().call("GET", "/security/pending", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]pendingRequest, 0, len(resp.Requests))
	for _, req := range resp.Requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func printPending(req pendingRequest) {
	riskColor := yellow
	if req.Risk == "high" || req.Risk == "critical" {
		riskColor = red
	}
	fmt.Printf("%s  ", req.ID)
	riskColor.Printf("[%s]", strings.ToUpper(req.Risk))
	fmt.Printf("  %s by %s — %s", req.Action, req.Principal, req.Reason)
	faint.Printf("  (expires %s)\n", req.ExpiresAt.Format(time.Kitchen))
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List confirmation requests awaiting a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			requests, err := fetchPending()
			if err != nil {
				return err
			}
			if len(requests) == 0 {
				faint.Println("Nothing pending.")
				return nil
			}
			for _, req := range requests {
				printPending(req)
			}
			return nil
		},
	}
}

func confirmCmd() *cobra.Command {
	var deny bool
	cmd := &cobra.Command{
		Use:   "confirm <request-id>",
		Short: "Approve (or deny) a pending confirmation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				OK              bool `json:"ok"`
				AlreadyResolved bool `json:"already_resolved"`
			}
			err := client().call("POST", "/security/confirm/"+args[0], map[string]any{
				"approved": !deny,
			}, &resp)
			if err != nil {
				return err
			}
			switch {
			case resp.AlreadyResolved:
				faint.Println("Already resolved.")
			case deny:
				yellow.Println("Denied.")
			default:
				green.Println("Approved.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of approve")
	return cmd
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll for confirmation requests and decide them interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			faint.Printf("Watching %s every %s (Ctrl-C to stop)\n", serverURL, interval)
			seen := make(map[string]bool)
			for {
				requests, err := fetchPending()
				if err != nil {
					return err
				}
				for _, req := range requests {
					if seen[req.ID] {
						continue
					}
					seen[req.ID] = true
					printPending(req)

					prompt := promptui.Prompt{
						Label:     fmt.Sprintf("Approve %s", req.Action),
						IsConfirm: true,
					}
					_, err := prompt.Run()
					approved := err == nil
					if err != nil && err != promptui.ErrAbort {
						return err
					}
					if err := client().call("POST", "/security/confirm/"+req.ID, map[string]any{"approved": approved}, nil); err != nil {
						yellow.Printf("Could not deliver decision: %v\n", err)
					}
				}
				time.Sleep(interval)
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func auditCmd() *cobra.Command {
	var limit int
	var principal string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if principal != "" {
				var summary json.RawMessage
				if err := client().call("GET", "/security/audit/principal/"+principal, nil, &summary); err != nil {
					return err
				}
				return printJSON(summary)
			}

			var resp struct {
				Entries []struct {
					Timestamp time.Time `json:"ts"`
					Principal string    `json:"principal"`
					Tool      string    `json:"tool"`
					Risk      string    `json:"risk"`
					Status    string    `json:"status"`
					Error     string    `json:"error,omitempty"`
				} `json:"entries"`
			}
			if err := client().call("GET", fmt.Sprintf("/security/audit/recent?limit=%d", limit), nil, &resp); err != nil {
				return err
			}
			for _, e := range resp.Entries {
				statusColor := green
				if e.Status != "success" {
					statusColor = red
				}
				faint.Printf("%s  ", e.Timestamp.Format("15:04:05"))
				fmt.Printf("%-12s %-16s %-8s ", e.Principal, e.Tool, e.Risk)
				statusColor.Print(e.Status)
				if e.Error != "" {
					faint.Printf("  %s", e.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	cmd.Flags().StringVar(&principal, "principal", "", "summarize one principal instead")
	return cmd
}

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect or reset conversation history",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the conversation history",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var resp struct {
					Context []struct {
						UserText      string `json:"user_text"`
						AssistantText string `json:"assistant_text"`
					} `json:"context"`
				}
				if err := client().call("GET", "/context/"+userID, nil, &resp); err != nil {
					return err
				}
				if len(resp.Context) == 0 {
					faint.Println("No history.")
					return nil
				}
				for _, ex := range resp.Context {
					yellow.Printf("> %s\n", ex.UserText)
					fmt.Printf("  %s\n", ex.AssistantText)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Drop the conversation history",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := client().call("DELETE", "/context/"+userID, nil, nil); err != nil {
					return err
				}
				green.Printf("Context cleared for %s.\n", userID)
				return nil
			},
		},
	)
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server and its workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Status   string            `json:"status"`
				Services map[string]string `json:"services"`
			}
			if err := client().call("GET", "/health", nil, &resp); err != nil {
				return err
			}
			if resp.Status == "ok" {
				green.Printf("Server: %s\n", resp.Status)
			} else {
				yellow.Printf("Server: %s\n", resp.Status)
			}
			names := make([]string, 0, len(resp.Services))
			for name := range resp.Services {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				state := resp.Services[name]
				if state == "healthy" {
					green.Printf("  %-12s %s\n", name, state)
				} else {
					red.Printf("  %-12s %s\n", name, state)
				}
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print server counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := client().call("GET", "/stats", nil, &raw); err != nil {
				return err
			}
			return printJSON(raw)
		},
	}
}

func printJSON(raw json.RawMessage) error {
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
