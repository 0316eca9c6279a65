// Command ruleflow serves, runs and maintains loan rule workflows.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/gxo-labs/ruleflow/modules/api"
	_ "github.com/gxo-labs/ruleflow/modules/cardlimit"
	_ "github.com/gxo-labs/ruleflow/modules/composite"
	_ "github.com/gxo-labs/ruleflow/modules/creditscore"
	_ "github.com/gxo-labs/ruleflow/modules/database"
	_ "github.com/gxo-labs/ruleflow/modules/documents"
	_ "github.com/gxo-labs/ruleflow/modules/income"
	_ "github.com/gxo-labs/ruleflow/modules/loanapproval"
	_ "github.com/gxo-labs/ruleflow/modules/scorelimit"
	_ "github.com/gxo-labs/ruleflow/modules/script"
)

const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitUsageError = 2
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the command line and maps its error to an exit code.
// Errors that carry no ExitError (bad flags, wrong argument counts) are
// usage errors.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.CommandPath())
	return ExitUsageError
}

// ExitError lets a RunE function choose the process exit code. A nil Err
// exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(err error) error { return &ExitError{Code: ExitUsageError, Err: err} }

func failure(err error) error { return &ExitError{Code: ExitFailure, Err: err} }
