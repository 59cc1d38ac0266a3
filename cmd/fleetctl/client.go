package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// misuseError marks a CLI usage error (exit code 2), distinct from an
// operational failure reaching the controller (exit code 1).
type misuseError struct{ msg string }

func (e *misuseError) Error() string { return e.msg }

// apiClient is a thin HTTP client for the subcommands below: each drives
// the already-running dashboard or wizard controller over its JSON API
// rather than reimplementing fleet logic in the CLI process.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) do(method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

// dashboardFlags holds the bind target shared by every client subcommand.
type dashboardFlags struct {
	addr string
}

func (f *dashboardFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "http://localhost:3000", "dashboard controller base URL")
}

func newStartCmd() *cobra.Command {
	var f dashboardFlags
	cmd := &cobra.Command{
		Use:   "start <service>",
		Short: "Start a service through the dashboard controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleServiceAction(f.addr, args[0], "start")
		},
	}
	f.register(cmd)
	return cmd
}

func newStopCmd() *cobra.Command {
	var f dashboardFlags
	cmd := &cobra.Command{
		Use:   "stop <service>",
		Short: "Stop a service through the dashboard controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleServiceAction(f.addr, args[0], "stop")
		},
	}
	f.register(cmd)
	return cmd
}

func newRestartCmd() *cobra.Command {
	var f dashboardFlags
	cmd := &cobra.Command{
		Use:   "restart <service>",
		Short: "Restart a service through the dashboard controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleServiceAction(f.addr, args[0], "restart")
		},
	}
	f.register(cmd)
	return cmd
}

func simpleServiceAction(addr, serviceID, action string) error {
	client := newAPIClient(addr)
	data, status, err := client.do(http.MethodPost, "/api/services/"+serviceID+"/"+action, nil)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if status >= 400 {
		return fmt.Errorf("%s %s failed with status %d", action, serviceID, status)
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	var f dashboardFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current observation of every known service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(f.addr)
			data, status, err := client.do(http.MethodGet, "/api/status", nil)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			if status >= 400 {
				return fmt.Errorf("status query failed with status %d", status)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newLogsCmd() *cobra.Command {
	var f dashboardFlags
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Print a service's recent log output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tail <= 0 {
				return &misuseError{msg: "--tail must be a positive integer"}
			}
			client := newAPIClient(f.addr)
			path := fmt.Sprintf("/api/services/%s/logs?tail=%d", args[0], tail)
			data, status, err := client.do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			os.Stdout.Write(data)
			if status >= 400 {
				return fmt.Errorf("logs query failed with status %d", status)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&tail, "tail", 200, "number of trailing log lines to request")
	return cmd
}

func newReconfigureCmd() *cobra.Command {
	var addr string
	var profiles []string
	var set []string
	var createBackup bool
	cmd := &cobra.Command{
		Use:   "reconfigure",
		Short: "Apply configuration changes through the wizard controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(set) == 0 {
				return &misuseError{msg: "at least one --set KEY=VALUE is required"}
			}
			values := make(map[string]string, len(set))
			for _, kv := range set {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return &misuseError{msg: "invalid --set value (expected KEY=VALUE): " + kv}
				}
				values[k] = v
			}
			client := newAPIClient(addr)
			body := map[string]any{
				"config":       values,
				"profiles":     profiles,
				"createBackup": createBackup,
			}
			data, status, err := client.do(http.MethodPost, "/api/wizard/reconfigure", body)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			if status >= 400 {
				return fmt.Errorf("reconfigure failed with status %d", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:3001", "wizard controller base URL")
	cmd.Flags().StringArrayVar(&profiles, "profile", nil, "active profile to evaluate affected services against (repeatable)")
	cmd.Flags().StringArrayVar(&set, "set", nil, "KEY=VALUE environment override (repeatable)")
	cmd.Flags().BoolVar(&createBackup, "create-backup", true, "snapshot configuration before applying")
	return cmd
}
