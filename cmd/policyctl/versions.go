package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// policyMetadata mirrors the JSON structure of the server's version metadata.
type policyMetadata struct {
	Attached struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Language    string `json:"language"`
	} `json:"attached"`
	Version uint64       `json:"version"`
	Creator userIdentity `json:"creator"`
	Created time.Time    `json:"created"`
}

type userIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type versionsResponse struct {
	Versions map[uint64]policyMetadata `json:"versions"`
}

// policyFile is the on-disk YAML document accepted by submit. Content may
// be any YAML value; it is converted to JSON before upload.
type policyFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Language    string `yaml:"language"`
	Content     any    `yaml:"content"`
}

func parseVersionArg(arg string) (uint64, error) {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: expected a positive number", arg)
	}
	return v, nil
}

// --- submit ---

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <policy-file>",
		Short: "Submit a new policy version",
		Long: `Submit a policy described by a YAML file and print the version
number the server assigned to it. The file carries name, description,
language and the policy content itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(args[0])
		},
	}
	return cmd
}

func runSubmit(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}
	if file.Name == "" {
		return fmt.Errorf("policy file %s has no name", path)
	}
	if file.Content == nil {
		return fmt.Errorf("policy file %s has no content", path)
	}

	contents, err := json.Marshal(file.Content)
	if err != nil {
		return fmt.Errorf("encoding policy content: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"metadata": map[string]string{
			"name":        file.Name,
			"description": file.Description,
			"language":    file.Language,
		},
		"contents": json.RawMessage(contents),
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	body, err := globalClient.doRequest("POST", "/v2/policies", bytes.NewReader(payload))
	if err != nil {
		return err
	}

	var resp struct {
		Version uint64 `json:"version"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		fmt.Fprintf(os.Stdout, "Policy %q stored as version %d\n", file.Name, resp.Version)
		return nil
	}

	return printOutput(os.Stdout, format, resp, nil, nil)
}

// --- versions ---

func newVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List stored policy versions",
		Long:  "List every stored policy version with its metadata, ordered by version number.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersions()
		},
	}
	return cmd
}

func runVersions() error {
	body, err := globalClient.doRequest("GET", "/v2/policies", nil)
	if err != nil {
		return err
	}

	var resp versionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	numbers := make([]uint64, 0, len(resp.Versions))
	for v := range resp.Versions {
		numbers = append(numbers, v)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	headers := []string{"Version", "Name", "Language", "Creator", "Created", "Description"}
	var rows [][]string
	for _, v := range numbers {
		md := resp.Versions[v]
		rows = append(rows, []string{
			strconv.FormatUint(v, 10),
			md.Attached.Name,
			md.Attached.Language,
			md.Creator.ID,
			md.Created.Format(time.RFC3339),
			truncate(md.Attached.Description, 50),
		})
	}

	return printOutput(os.Stdout, format, resp, headers, rows)
}

// --- metadata ---

func newMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata <version>",
		Short: "Show one version's metadata",
		Long:  "Show the stored metadata of a single policy version.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetadata(args[0])
		},
	}
	return cmd
}

func runMetadata(arg string) error {
	version, err := parseVersionArg(arg)
	if err != nil {
		return err
	}

	body, err := globalClient.doRequest("GET", fmt.Sprintf("/v2/policies/%d", version), nil)
	if err != nil {
		return err
	}

	var resp struct {
		Metadata policyMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		md := resp.Metadata
		fmt.Fprintf(os.Stdout, "Version:     %d\n", md.Version)
		fmt.Fprintf(os.Stdout, "Name:        %s\n", md.Attached.Name)
		fmt.Fprintf(os.Stdout, "Description: %s\n", md.Attached.Description)
		fmt.Fprintf(os.Stdout, "Language:    %s\n", md.Attached.Language)
		fmt.Fprintf(os.Stdout, "Creator:     %s (%s)\n", md.Creator.ID, md.Creator.Name)
		fmt.Fprintf(os.Stdout, "Created:     %s\n", md.Created.Format(time.RFC3339))
		return nil
	}

	return printOutput(os.Stdout, format, resp.Metadata, nil, nil)
}

// --- content ---

func newContentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content <version>",
		Short: "Show one version's content",
		Long:  "Print the stored content of a single policy version.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContent(args[0])
		},
	}
	return cmd
}

func runContent(arg string) error {
	version, err := parseVersionArg(arg)
	if err != nil {
		return err
	}

	body, err := globalClient.doRequest("GET", fmt.Sprintf("/v2/policies/%d/content", version), nil)
	if err != nil {
		return err
	}

	var resp struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputYAML {
		var data any
		if err := json.Unmarshal(resp.Content, &data); err != nil {
			return fmt.Errorf("parsing content: %w", err)
		}
		return printYAML(os.Stdout, data)
	}

	// Policy content has no tabular shape; print indented JSON either way.
	var buf bytes.Buffer
	if err := json.Indent(&buf, resp.Content, "", "  "); err != nil {
		return fmt.Errorf("formatting content: %w", err)
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(os.Stdout)
	return err
}
