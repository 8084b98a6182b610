package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type activeVersionResponse struct {
	Version *uint64 `json:"version"`
}

type activatorResponse struct {
	User *userIdentity `json:"user"`
}

// --- activate ---

func newActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <version>",
		Short: "Make a policy version the enforced one",
		Long: `Mark the given version as the enforced policy. Activating the
version that is already active changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate(args[0])
		},
	}
	return cmd
}

func runActivate(arg string) error {
	version, err := parseVersionArg(arg)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]uint64{"version": version})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	if _, err := globalClient.doRequest("PUT", "/v2/policies/active", bytes.NewReader(payload)); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Version %d activated\n", version)
	return nil
}

// --- deactivate ---

func newDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Retire the enforced policy version",
		Long:  "Retire the currently enforced version. Does nothing when no version is active.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeactivate()
		},
	}
	return cmd
}

func runDeactivate() error {
	if _, err := globalClient.doRequest("DELETE", "/v2/policies/active", nil); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "Active version deactivated")
	return nil
}

// --- active ---

func newActiveCmd() *cobra.Command {
	var showActivator bool

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the enforced policy version",
		Long:  "Show which policy version is currently enforced, if any.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActive(showActivator)
		},
	}

	cmd.Flags().BoolVar(&showActivator, "activator", false, "Also show who activated the version")

	return cmd
}

func runActive(showActivator bool) error {
	body, err := globalClient.doRequest("GET", "/v2/policies/active", nil)
	if err != nil {
		return err
	}

	var resp activeVersionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	var activator *userIdentity
	if showActivator {
		body, err := globalClient.doRequest("GET", "/v2/policies/active/activator", nil)
		if err != nil {
			return err
		}
		var actResp activatorResponse
		if err := json.Unmarshal(body, &actResp); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
		activator = actResp.User
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		if resp.Version == nil {
			fmt.Fprintln(os.Stdout, "No active version")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Active version: %d\n", *resp.Version)
		if activator != nil {
			fmt.Fprintf(os.Stdout, "Activated by:   %s (%s)\n", activator.ID, activator.Name)
		}
		return nil
	}

	out := map[string]any{"version": resp.Version}
	if showActivator {
		out["activator"] = activator
	}
	return printOutput(os.Stdout, format, out, nil, nil)
}
