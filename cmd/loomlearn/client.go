package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// --- HTTP client ---

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func newClient(server string) *Client {
	return &Client{
		BaseURL: server,
		APIKey:  os.Getenv("LOOMLEARN_API_KEY"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func defaultServer() string {
	if server := os.Getenv("LOOMLEARN_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// printJSON re-indents a JSON response onto w.
func printJSON(w io.Writer, data []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, werr := w.Write(data)
		return werr
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

func addServerFlag(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVarP(server, "server", "s", defaultServer(), "loomlearn server URL")
}

func newProgressCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "progress [agent-id]",
		Short: "Show learning progress for one agent, or the global summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if len(args) == 1 {
				params.Set("agent_id", args[0])
			}
			data, err := newClient(server).do(http.MethodGet, "/api/v1/learning/progress", params, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		server string
		all    bool
		req    struct {
			IncludePatterns  bool `json:"include_patterns"`
			IncludeModels    bool `json:"include_models"`
			IncludeBehaviors bool `json:"include_behaviors"`
			IncludeInsights  bool `json:"include_insights"`
		}
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a snapshot of everything learned",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				req.IncludePatterns, req.IncludeModels, req.IncludeBehaviors, req.IncludeInsights = true, true, true, true
			}
			data, err := newClient(server).do(http.MethodPost, "/api/v1/intelligence/export", nil, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	addServerFlag(cmd, &server)
	cmd.Flags().BoolVar(&all, "all", false, "Include every section")
	cmd.Flags().BoolVar(&req.IncludePatterns, "patterns", false, "Include patterns")
	cmd.Flags().BoolVar(&req.IncludeModels, "models", false, "Include model descriptors")
	cmd.Flags().BoolVar(&req.IncludeBehaviors, "behaviors", false, "Include behavior states")
	cmd.Flags().BoolVar(&req.IncludeInsights, "insights", false, "Include insights")
	return cmd
}

func newTickCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:       "tick [fast|slow]",
		Short:     "Run a learning tick now, or list tick stats without an argument",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"fast", "slow"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(server)
			var (
				data []byte
				err  error
			)
			if len(args) == 0 {
				data, err = client.do(http.MethodGet, "/api/v1/learning/ticks", nil, nil)
			} else {
				data, err = client.do(http.MethodPost, "/api/v1/learning/ticks/"+args[0], nil, nil)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}
