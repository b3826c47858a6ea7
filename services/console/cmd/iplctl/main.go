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

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBase string

	cmd := &cobra.Command{
		Use:           "iplctl",
		Short:         "Utility for driving the IPL timing fleet console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	base := os.Getenv("IPLFLEET_API")
	if base == "" {
		base = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&apiBase, "api", base, "console base URL")

	client := &apiClient{base: &apiBase, http: &http.Client{Timeout: 30 * time.Second}}

	cmd.AddCommand(newDeployCommand(client))
	cmd.AddCommand(newDryRunCommand(client))
	cmd.AddCommand(newScheduleCommand(client))
	cmd.AddCommand(newIngestCommand(client))
	return cmd
}

func newDeployCommand(client *apiClient) *cobra.Command {
	var ids []string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Launch a deployment across the given LPAR ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return fmt.Errorf("at least one --id is required")
			}
			return client.post(cmd, "/v1/deployments", map[string]any{"lpar_ids": ids})
		},
	}

	cmd.Flags().StringSliceVar(&ids, "id", nil, "LPAR id to deploy (repeatable)")
	return cmd
}

func newDryRunCommand(client *apiClient) *cobra.Command {
	var host, user, dataset string

	cmd := &cobra.Command{
		Use:   "dryrun",
		Short: "Run the pre-flight checks against one host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.post(cmd, "/v1/dryrun", map[string]any{
				"hostname": host,
				"username": user,
				"dataset":  dataset,
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "target hostname")
	cmd.Flags().StringVar(&user, "user", "", "ssh username")
	cmd.Flags().StringVar(&dataset, "dataset", "", "syslog dataset qualifier")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func newScheduleCommand(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring deployment schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newScheduleAddCommand(client))
	cmd.AddCommand(newScheduleListCommand(client))
	cmd.AddCommand(newScheduleClearCommand(client))
	return cmd
}

func newScheduleAddCommand(client *apiClient) *cobra.Command {
	var (
		id        string
		at        string
		dayOfWeek string
		cancelAll bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a recurring deployment for one LPAR",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.post(cmd, "/v1/schedules", map[string]any{
				"lpar_id":     id,
				"time":        at,
				"day_of_week": dayOfWeek,
				"cancel_jobs": cancelAll,
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "LPAR id")
	cmd.Flags().StringVar(&at, "time", "", "time of day, HH:MM")
	cmd.Flags().StringVar(&dayOfWeek, "day", "", "weekday name; empty means every day")
	cmd.Flags().BoolVar(&cancelAll, "cancel-all", false, "wipe the registry before adding")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func newScheduleListCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.get(cmd, "/v1/schedules")
		},
	}
}

func newScheduleClearCommand(client *apiClient) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear schedules by tag, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/schedules"
			if tag != "" {
				path += "?tag=" + tag
			}
			return client.delete(cmd, path)
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "schedule tag; empty clears everything")
	return cmd
}

func newIngestCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Ingest downloaded CSV results and classify them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.post(cmd, "/v1/ingest", map[string]any{})
		},
	}
}

type apiClient struct {
	base *string
	http *http.Client
}

func (c *apiClient) post(cmd *cobra.Command, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, *c.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(cmd, req)
}

func (c *apiClient) get(cmd *cobra.Command, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, *c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(cmd, req)
}

func (c *apiClient) delete(cmd *cobra.Command, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, *c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(cmd, req)
}

func (c *apiClient) do(cmd *cobra.Command, req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if len(bytes.TrimSpace(body)) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
	}
	return nil
}
