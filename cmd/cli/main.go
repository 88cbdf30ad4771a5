package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// options are the persistent flags shared by the API commands.
type options struct {
	baseURL string
	token   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "transferctl",
		Short:         "Transfer engine CLI tool",
		Long:          `A command line interface for operating the transfer engine and its API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("TRANSFERENGINE_URL", "http://localhost:8080"), "Base URL of the transfer engine API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TRANSFERENGINE_TOKEN"), "Bearer token for the API")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		ledgerCmd(opts),
		accountCmd(opts),
		transferCmd(opts),
		tokenCmd(),
		migrateCmd(),
	)

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient issues JSON requests against the HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (o *options) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(o.baseURL, "/"),
		token:   o.token,
		http:    &http.Client{Timeout: o.timeout},
	}
}

type apiResponse struct {
	status int
	body   []byte
}

func (c *apiClient) do(ctx context.Context, method, path string, payload any, headers map[string]string) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &apiResponse{status: resp.StatusCode, body: raw}, nil
}

// printJSON writes body indented, or verbatim when it is not JSON.
func printJSON(w io.Writer, body []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Fprintln(w, string(body))
		return
	}
	fmt.Fprintln(w, buf.String())
}

// expect prints the response and fails unless its status is one of ok.
func expect(cmd *cobra.Command, resp *apiResponse, ok ...int) error {
	for _, s := range ok {
		if resp.status == s {
			printJSON(cmd.OutOrStdout(), resp.body)
			return nil
		}
	}

	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.body, &apiErr) == nil && apiErr.Error != "" {
		if apiErr.Message != "" {
			return fmt.Errorf("request failed (status %d): %s: %s", resp.status, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("request failed (status %d): %s", resp.status, apiErr.Error)
	}
	return fmt.Errorf("request failed (status %d): %s", resp.status, strings.TrimSpace(string(resp.body)))
}

func ledgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "consistency",
		Short: "Check that every currency's entries sum to zero",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/ledger/consistency", nil, nil)
			if err != nil {
				return err
			}

			switch resp.status {
			case http.StatusOK:
				fmt.Fprintln(cmd.OutOrStdout(), "Consistency check PASSED")
				printJSON(cmd.OutOrStdout(), resp.body)
				return nil
			case http.StatusConflict:
				fmt.Fprintln(cmd.OutOrStdout(), "Consistency check FAILED")
				printJSON(cmd.OutOrStdout(), resp.body)
				return fmt.Errorf("ledger is inconsistent")
			}
			return expect(cmd, resp)
		},
	})

	return cmd
}
