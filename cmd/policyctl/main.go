// Package main provides the policyctl binary for managing a policy server.
// It submits and activates policy versions through the policy-server HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	serverURL    string
	tokenFlag    string
	outputFlag   string
	globalClient *policyClient
)

// policyClient wraps an HTTP client and the server base URL.
type policyClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// newPolicyClient creates a new client targeting the given server URL.
func newPolicyClient(baseURL, token string) *policyClient {
	return &policyClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
}

// doRequest performs an HTTP request and returns the response body bytes.
// It returns an error if the status code indicates a failure.
func (c *policyClient) doRequest(method, path string, body io.Reader) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("sending request", "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to policy server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Try to extract the error message from the JSON response
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "policyctl",
		Short: "CLI for the policy server",
		Long: `policyctl is a command-line tool for managing a policy server.

It submits policy versions, controls which version is enforced,
and inspects stored versions and their activation state.

The CLI communicates with the policy-server HTTP API.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			token := tokenFlag
			if token == "" {
				token = os.Getenv("POLICYCTL_TOKEN")
			}
			globalClient = newPolicyClient(serverURL, token)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Policy server URL")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token for the Authorization header (defaults to POLICYCTL_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")

	// Register subcommands
	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newVersionsCmd())
	rootCmd.AddCommand(newMetadataCmd())
	rootCmd.AddCommand(newContentCmd())
	rootCmd.AddCommand(newActivateCmd())
	rootCmd.AddCommand(newDeactivateCmd())
	rootCmd.AddCommand(newActiveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
