package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/quick"
)

// envFlags collects repeated --env k=v flags.
type envFlags map[string]string

func (e envFlags) String() string {
	pairs := make([]string, 0, len(e))
	for k, v := range e {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (e envFlags) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected k=v, got %q", value)
	}
	e[k] = v
	return nil
}

// runWorkflow executes a definition file locally and prints the outcome.
func runWorkflow(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	env := make(envFlags)
	fs.Var(env, "env", "Environment entry k=v (repeatable)")
	timeout := fs.Duration("timeout", 0, "Overall run deadline, e.g. 30s")
	verbose := fs.Bool("verbose", false, "Print execution log entries")

	file, rest := splitFileArg(args)
	if file == "" {
		fmt.Fprintln(os.Stderr, "Usage: fluxwire run <file> [--env k=v] [--timeout 30s] [--verbose]")
		os.Exit(1)
	}
	fs.Parse(rest)

	var opts []quick.Option
	if *timeout > 0 {
		opts = append(opts, quick.WithTimeout(*timeout))
	}

	rec, err := quick.RunFile(context.Background(), file, env, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}

	printRunRecord(rec, *verbose)

	if rec.Status != flow.RunStatusSuccess {
		os.Exit(1)
	}
}

// runValidate compiles a definition file and reports whether it would be
// accepted by the server.
func runValidate(args []string) {
	file, _ := splitFileArg(args)
	if file == "" {
		fmt.Fprintln(os.Stderr, "Usage: fluxwire validate <file>")
		os.Exit(1)
	}

	def, err := flow.LoadDefinition(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		os.Exit(1)
	}
	g, err := def.Graph()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Valid: %s (%d nodes, %d edges)\n", g.Name(), len(g.Nodes()), len(g.Edges()))
}

// splitFileArg peels the first non-flag argument off args so subcommands
// accept "fluxwire run file.json --env k=v" without flag-order gymnastics.
func splitFileArg(args []string) (string, []string) {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			rest = append(rest, args[i+1:]...)
			return a, rest
		}
	}
	return "", args
}

func printRunRecord(rec *flow.RunRecord, verbose bool) {
	fmt.Printf("Workflow: %s (%s)\n", rec.WorkflowName, rec.WorkflowID)
	fmt.Printf("Run:      %s\n", rec.ID)
	fmt.Printf("Status:   %s\n", rec.Status)
	fmt.Printf("Duration: %s\n", time.Duration(rec.DurationMs)*time.Millisecond)

	nodes := make([]*flow.NodeExecutionRecord, 0, len(rec.Nodes))
	for _, n := range rec.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		// Executed nodes in start order, never-started nodes last.
		si, sj := nodes[i].StartTime, nodes[j].StartTime
		if si.IsZero() != sj.IsZero() {
			return sj.IsZero()
		}
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return nodes[i].NodeID < nodes[j].NodeID
	})

	fmt.Println("Nodes:")
	for _, n := range nodes {
		line := fmt.Sprintf("  %-20s %-10s %s", n.NodeID, n.Status, time.Duration(n.DurationMs)*time.Millisecond)
		if n.Error != "" {
			line += "  " + n.Error
		}
		fmt.Println(line)
	}

	if verbose && len(rec.Logs) > 0 {
		fmt.Println("Log:")
		for _, entry := range rec.Logs {
			fmt.Printf("  %s [%s] %s: %s\n",
				entry.Timestamp.Format(time.RFC3339), entry.Level, entry.NodeID, entry.Message)
		}
	}
}
