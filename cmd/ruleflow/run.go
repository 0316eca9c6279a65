package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gxo-labs/ruleflow/internal/transport"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
)

type runOptions struct {
	inputFile   string
	catalogPath string
	requestID   string
	jsonOutput  bool
}

func newRunCommand(g *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <product> <step>",
		Short: "Execute one workflow step and print its result",
		Long: `Execute every active rule of a workflow step against a JSON input and print
the aggregated result.

Exit codes: 0 approved, 1 rejected, 2 usage or configuration error.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd, g, opts, args[0], args[1])
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.inputFile, "input", "i", "", "JSON object used as the execution context ('-' reads stdin)")
	flags.StringVar(&opts.catalogPath, "catalog", "", "Catalog file (defaults to the catalog.path setting)")
	flags.StringVar(&opts.requestID, "request-id", "", "Request id (generated when empty)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the StepResult as JSON")
	return cmd
}

func runStep(cmd *cobra.Command, g *globalOptions, opts *runOptions, product, step string) error {
	s, err := g.settings()
	if err != nil {
		return err
	}
	if opts.catalogPath != "" {
		s.Catalog.Path = opts.catalogPath
	}
	input, err := readInput(opts.inputFile, cmd.InOrStdin())
	if err != nil {
		return usageError(err)
	}
	switch {
	case opts.requestID != "":
		input["requestId"] = opts.requestID
	case input["requestId"] == nil:
		input["requestId"] = uuid.NewString()
	}

	log := newLogger(s, cmd.ErrOrStderr())
	ctx := cmd.Context()
	svc, err := newServices(ctx, s, s.Catalog.Path, log)
	if err != nil {
		return err
	}
	svc.start(ctx)

	result := svc.engine.ExecuteStep(ctx, product, step, input)
	if err := transport.NewEventPublisher(svc.bus, log).Publish(ctx, result); err != nil {
		log.Warnf("Failed to publish result: %v", err)
	}
	svc.close()

	if err := writeResult(cmd.OutOrStdout(), result, opts.jsonOutput); err != nil {
		return failure(err)
	}
	switch {
	case result.ErrorMessage == rfv1.StepNotFoundMessage:
		return usageError(fmt.Errorf("%s: %s/%s", rfv1.StepNotFoundMessage, product, step))
	case !result.Approved:
		return &ExitError{Code: ExitFailure}
	}
	return nil
}

// readInput decodes a JSON object from path. An empty path yields an empty
// context.
func readInput(path string, stdin io.Reader) (map[string]interface{}, error) {
	input := map[string]interface{}{}
	if path == "" {
		return input, nil
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input '%s': %w", path, err)
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("input '%s' is not a JSON object: %w", path, err)
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	return input, nil
}

func writeResult(w io.Writer, result *rfv1.StepResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	_, err := fmt.Fprintln(w, renderReport(result))
	return err
}
