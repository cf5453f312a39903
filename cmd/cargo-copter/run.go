package main

import (
	"context"
	"flag"
	"strings"

	"github.com/imazen/cargo-copter/internal/cerrors"
	"github.com/imazen/cargo-copter/internal/classify"
	"github.com/imazen/cargo-copter/internal/config"
	"github.com/imazen/cargo-copter/internal/driver"
	"github.com/imazen/cargo-copter/internal/matrix"
	"github.com/imazen/cargo-copter/internal/runner"
	"github.com/imazen/cargo-copter/internal/stage"
)

const runShortHelp = `Test a candidate crate version against its reverse dependencies`
const runLongHelp = `
usage: cargo-copter run [flags]

Exactly one of -path or -crate-name must be given to identify the base
crate under test. At least one of -top-dependents, -dependents, or
-dependent-paths must select dependents to build against it.

Examples:

  cargo-copter run -path . -force 2.0.0 -top-dependents 20
  cargo-copter run -crate-name widget -patch 2.0.0 -dependents consumer-a,consumer-b:1.4.0
`

// csvFlag accumulates a repeatable, comma-separated flag value into a
// []string, mirroring the CLI ergonomics golang-dep uses for its own
// repeatable -add/-update arguments.
type csvFlag struct{ values *[]string }

func (c csvFlag) String() string {
	if c.values == nil {
		return ""
	}
	return strings.Join(*c.values, ",")
}

func (c csvFlag) Set(raw string) error {
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			*c.values = append(*c.values, part)
		}
	}
	return nil
}

type runCommand struct {
	opts config.Options
}

func (cmd *runCommand) Name() string      { return "run" }
func (cmd *runCommand) Args() string      { return "[flags]" }
func (cmd *runCommand) ShortHelp() string { return runShortHelp }
func (cmd *runCommand) LongHelp() string  { return runLongHelp }

func (cmd *runCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.opts.Path, "path", "", "local path to the base crate's source")
	fs.StringVar(&cmd.opts.CrateName, "crate-name", "", "published name of the base crate")
	fs.IntVar(&cmd.opts.TopDependents, "top-dependents", 0, "select the top N dependents by download count")
	fs.Var(csvFlag{&cmd.opts.Dependents}, "dependents", "comma-separated explicit dependent list (name[:version])")
	fs.Var(csvFlag{&cmd.opts.DependentPaths}, "dependent-paths", "comma-separated local dependent paths")
	fs.Var(csvFlag{&cmd.opts.PatchVersions}, "patch", "comma-separated offered versions applied via [patch]")
	fs.Var(csvFlag{&cmd.opts.ForceVersions}, "force", "comma-separated offered versions applied via a direct pin")
	fs.StringVar(&cmd.opts.StagingDir, "staging-dir", "cargo-copter-staging", "directory for staged dependent/override sources")
	fs.BoolVar(&cmd.opts.SkipCheck, "skip-check", false, "skip the cargo check step")
	fs.BoolVar(&cmd.opts.SkipTest, "skip-test", false, "skip the cargo test step")
	fs.IntVar(&cmd.opts.ErrorLines, "error-lines", 40, "stderr line budget carried into the matrix and driver options (captured step output is not truncated)")
	fs.Var(csvFlag{&cmd.opts.Features}, "features", "comma-separated cargo features passed through to every invocation")
	fs.BoolVar(&cmd.opts.Clean, "clean", false, "purge the staging directory before running")
}

func (cmd *runCommand) Run(loggers *Loggers, args []string) error {
	ctx := context.Background()

	m, err := config.Resolve(ctx, cmd.opts, nil)
	if err != nil {
		return err
	}

	stager := stage.New(m.StagingDir, nil)
	if cmd.opts.Clean {
		if err := stager.Purge(); err != nil {
			return err
		}
	}

	r := &runner.Runner{
		Driver: driver.New(loggers.Out),
		Stage:  stager,
		Log:    loggers.Out,
	}

	regressed := 0
	results, err := r.Run(ctx, m, func(res matrix.TestResult) {
		if reportResult(loggers, res, m.SkipCheck, m.SkipTest) == matrix.StatusRegressed {
			regressed++
		}
	})
	if err != nil {
		return err
	}

	loggers.Out.Printf("ran %d cells across %d dependent(s)\n", len(results), len(m.Dependents))
	if regressed > 0 {
		return &cerrors.RegressionsFound{Count: regressed}
	}
	return nil
}

// reportResult prints one line per completed cell and returns its
// classified status so the caller can track regressions for the exit code.
// Full report rendering (console/Markdown/JSON/HTML) is out of scope; this
// is the minimum the run subcommand needs to be useful standalone.
func reportResult(loggers *Loggers, res matrix.TestResult, skipCheck, skipTest bool) matrix.Status {
	status := classify.Classify(res, skipCheck, skipTest)
	loggers.Out.Printf("%-12s %-24s base=%-12s depth=%s\n",
		status, res.Dependent.Name, res.BaseVersion.Version, res.Execution.PatchDepth)
	return status
}
