// Command cargo-copter tests whether a candidate version of a Rust crate
// breaks its reverse dependencies before that version is published.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/imazen/cargo-copter/internal/cerrors"
)

// Exit codes, per spec.md 7: zero is reserved for a clean run with no
// regressed cells, exitRegressionsFound for a clean run that found at least
// one, and exitError for everything else (config mistakes, infrastructure
// failures, a bad command line).
const (
	exitOK               = 0
	exitError            = 1
	exitRegressionsFound = 2
)

// command mirrors golang-dep's cmd/dep subcommand shape
// (Name/Args/ShortHelp/LongHelp/Register/Run), scaled down to the one
// subcommand cargo-copter needs.
type command interface {
	Name() string
	Args() string
	ShortHelp() string
	LongHelp() string
	Register(*flag.FlagSet)
	Run(*Loggers, []string) error
}

// Loggers threads output destinations explicitly into every constructor
// that needs to report progress, rather than relying on package-level
// globals, mirroring cmd/dep's own Loggers{Out, Err, Verbose} shape.
type Loggers struct {
	Out, Err *log.Logger
	Verbose  bool
}

func main() {
	os.Exit((&Config{
		Args:   os.Args,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}).Run())
}

// Config specifies a full configuration for a cargo-copter execution.
type Config struct {
	Args           []string
	Stdout, Stderr io.Writer
}

// Run executes a configuration and returns a process exit code.
func (c *Config) Run() (exitCode int) {
	commands := []command{&runCommand{}}

	outLogger := log.New(c.Stdout, "", 0)
	errLogger := log.New(c.Stderr, "", 0)

	usage := func() {
		errLogger.Println("cargo-copter tests a candidate crate version against its reverse dependencies")
		errLogger.Println()
		errLogger.Println("Usage: cargo-copter <command>")
		errLogger.Println()
		errLogger.Println("Commands:")
		errLogger.Println()
		w := tabwriter.NewWriter(c.Stderr, 0, 4, 2, ' ', 0)
		for _, cmd := range commands {
			fmt.Fprintf(w, "\t%s\t%s\n", cmd.Name(), cmd.ShortHelp())
		}
		w.Flush()
	}

	if len(c.Args) < 2 {
		usage()
		return exitError
	}

	name := c.Args[1]
	for _, cmd := range commands {
		if cmd.Name() != name {
			continue
		}

		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		fs.SetOutput(c.Stderr)
		verbose := fs.Bool("v", false, "enable verbose logging")
		cmd.Register(fs)
		resetUsage(errLogger, fs, name, cmd.Args(), cmd.LongHelp())

		if err := fs.Parse(c.Args[2:]); err != nil {
			return exitError
		}

		loggers := &Loggers{Out: outLogger, Err: errLogger, Verbose: *verbose}
		if err := cmd.Run(loggers, fs.Args()); err != nil {
			errLogger.Printf("%v\n", err)
			return exitCodeFor(err)
		}
		return exitOK
	}

	errLogger.Printf("cargo-copter: %s: no such command\n", name)
	usage()
	return exitError
}

// exitCodeFor maps a command's returned error to a process exit code, per
// spec.md 7: a *cerrors.RegressionsFound gets its own reserved code, kept
// distinct from every other error (config mistakes, infrastructure
// failures).
func exitCodeFor(err error) int {
	var regressed *cerrors.RegressionsFound
	if errors.As(err, &regressed) {
		return exitRegressionsFound
	}
	return exitError
}

// resetUsage installs a friendlier usage message on fs, mirroring
// cmd/dep's main.go resetUsage.
func resetUsage(logger *log.Logger, fs *flag.FlagSet, name, args, longHelp string) {
	var flagBlock strings.Builder
	flagWriter := tabwriter.NewWriter(&flagBlock, 0, 4, 2, ' ', 0)
	hasFlags := false
	fs.VisitAll(func(f *flag.Flag) {
		hasFlags = true
		defValue := f.DefValue
		if defValue == "" {
			defValue = "<none>"
		}
		fmt.Fprintf(flagWriter, "\t-%s\t%s (default: %s)\n", f.Name, f.Usage, defValue)
	})
	flagWriter.Flush()

	fs.Usage = func() {
		logger.Printf("Usage: cargo-copter %s %s\n", name, args)
		logger.Println()
		logger.Println(strings.TrimSpace(longHelp))
		logger.Println()
		if hasFlags {
			logger.Println("Flags:")
			logger.Println()
			logger.Println(flagBlock.String())
		}
	}
}
