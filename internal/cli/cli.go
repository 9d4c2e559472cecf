package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/rankgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("rankgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
rankgrid - Executes ranking plans: DAGs of row-batch operators that turn a
candidate source into a ranked list for one request.

Usage:
  rankgrid [options] [PLAN_PATH...]

Arguments:
  PLAN_PATH
    Path to a .hcl or .json plan file, or a directory of them.

Options:
`)
		flagSet.PrintDefaults()
	}

	planFlag := flagSet.String("plan", "", "Path to the plan file or directory.")
	pFlag := flagSet.String("p", "", "Path to the plan file or directory (shorthand).")
	executorFlag := flagSet.String("executor", app.ExecutorReactor, "Execution strategy. Options: 'sequential', 'parallel', 'reactor' or 'all'.")
	cpuFlag := flagSet.Int("cpu-workers", 4, "Number of CPU pool workers.")
	ioFlag := flagSet.Int("io-workers", 8, "Number of IO pool workers.")
	deadlineFlag := flagSet.Int("deadline-ms", 0, "Run-wide deadline in milliseconds. 0 is none.")
	nodeTimeoutFlag := flagSet.Int("node-timeout-ms", 0, "Per-node timeout in milliseconds. 0 keeps operator defaults.")
	requestFlag := flagSet.String("request", "", "Path to a JSON request file with user_id and param_overrides.")
	repeatFlag := flagSet.Int("repeat", 1, "Number of times to run the plan.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	printRegistryFlag := flagSet.Bool("print-registry", false, "Print the operator table and exit unless a plan is given.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	var paths []string
	if *planFlag != "" {
		paths = append(paths, *planFlag)
	} else if *pFlag != "" {
		paths = append(paths, *pFlag)
	}
	paths = append(paths, flagSet.Args()...)
	slog.Debug("Plan paths determined.", "paths", paths)

	if len(paths) == 0 && !*printRegistryFlag {
		slog.Debug("No plan path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	if *deadlineFlag < 0 || *nodeTimeoutFlag < 0 {
		return nil, false, &ExitError{Code: 2, Message: "invalid timeout: deadline-ms and node-timeout-ms cannot be negative"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PlanPaths:       paths,
		RequestPath:     *requestFlag,
		Executor:        strings.ToLower(*executorFlag),
		CPUWorkers:      *cpuFlag,
		IOWorkers:       *ioFlag,
		Deadline:        time.Duration(*deadlineFlag) * time.Millisecond,
		NodeTimeout:     time.Duration(*nodeTimeoutFlag) * time.Millisecond,
		Repeat:          *repeatFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
		PrintRegistry:   *printRegistryFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
