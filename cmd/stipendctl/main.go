package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ctc-stipend/stipend/cmd/stipendctl/cli"
	"github.com/ctc-stipend/stipend/internal/app"
)

const usage = `usage: stipendctl <command> [flags]

commands:
  jobs trigger --job <reporting:sweep|signing:dispatch> [--student id]
  jobs inspect [--json]
  compliance --lea id[,id...] [--json]
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping ctl startup")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)
	services, err := app.NewServices(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "init services: %v\n", err)
		return 1
	}
	defer services.Close()

	switch args[0] {
	case "jobs":
		opts, err := services.RedisOpts(cfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
			return 1
		}
		jobsCLI := cli.NewJobsCLI(opts)
		defer func() { _ = jobsCLI.Close() }()
		return runJobs(ctx, jobsCLI, args[1:], stdout, stderr)
	case "compliance":
		fs := flag.NewFlagSet("compliance", flag.ContinueOnError)
		fs.SetOutput(stderr)
		leas := fs.String("lea", "", "comma separated LEA ids")
		asJSON := fs.Bool("json", false, "emit JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ids, err := parseIDs(*leas)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "compliance: %v\n", err)
			return 1
		}
		return cli.NewComplianceCLI(services.Tracker).ComplianceCommand(ctx, cli.ComplianceOptions{
			LEAIDs: ids, JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr,
		})
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}

func runJobs(ctx context.Context, jobsCLI *cli.JobsCLI, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	switch args[0] {
	case "trigger":
		job := fs.String("job", "", "task type")
		student := fs.Int64("student", 0, "student id for signing:dispatch")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return jobsCLI.TriggerCommand(ctx, cli.TriggerOptions{Job: *job, StudentID: *student, Stdout: stdout, Stderr: stderr})
	case "inspect":
		asJSON := fs.Bool("json", false, "emit JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return jobsCLI.InspectCommand(ctx, cli.InspectOptions{JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}

func parseIDs(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
