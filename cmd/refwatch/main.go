// SPDX-License-Identifier: GPL-3.0-or-later

// Command refwatch runs a single operation against an in-memory database
// through a watcher and prints what the watcher observed.
//
// Example:
//
//	refwatch run --rules rules.yaml --path /users/alice --op set \
//		--value '{"name":"Alice"}' --uid bob --debug-permissions
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bassosimone/refwatch"
	"github.com/bassosimone/refwatch/internal/memclient"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

// runOptions contains the flags of the run command.
type runOptions struct {
	rules     string
	path      string
	op        string
	value     string
	latency   time.Duration
	slow      time.Duration
	debugPerm bool
	uid       string
	timeout   time.Duration
	verbose   bool
}

// defaultRules are used when no rules file is given.
var defaultRules = memclient.Rules{
	"/":           {Read: "true", Write: "false"},
	"/users/$uid": {Write: "auth != null && auth.uid == $uid"},
	"/public":     {Write: "auth != null"},
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "refwatch",
		Short:         "Observe realtime database calls",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an operation and report errors, slow writes and denials",
		Long: `Run a single operation against an in-memory database through a watcher.

The watcher prints every error, slow write and permission-denied trace
to the standard output. Structured logs go to the standard error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	flags := runCmd.Flags()
	flags.StringVar(&opts.rules, "rules", "", "YAML rules file (default: built-in rules)")
	flags.StringVar(&opts.path, "path", "/", "Location to operate on")
	flags.StringVar(&opts.op, "op", "set", "Operation: set, update, remove, push or once")
	flags.StringVar(&opts.value, "value", "null", "JSON value for set, update and push")
	flags.DurationVar(&opts.latency, "latency", 10*time.Millisecond, "Latency of each database operation")
	flags.DurationVar(&opts.slow, "slow", 0, "Report writes slower than this (zero disables)")
	flags.BoolVar(&opts.debugPerm, "debug-permissions", false, "Reproduce permission-denied failures with tracing")
	flags.StringVar(&opts.uid, "uid", "", "Authenticate as this identity before running")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Overall timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	return runCmd
}

func runOperation(ctx context.Context, stdout, stderr io.Writer, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	rules := defaultRules
	if opts.rules != "" {
		var err error
		if rules, err = memclient.LoadRules(opts.rules); err != nil {
			return err
		}
	}
	db, err := memclient.NewDatabase(rules, memclient.Options{Latency: opts.latency, Logger: logger})
	if err != nil {
		return err
	}

	var value any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(opts.value, &value); err != nil {
		return fmt.Errorf("invalid --value: %w", err)
	}

	w := refwatch.NewWatcher(refwatch.NewConfig(), logger)
	w.OnError(func(err error, target any, method string, args []any) {
		fmt.Fprintf(stdout, "error: %s\n", describe(err))
	})
	if opts.slow > 0 {
		w.OnSlowWrite(opts.slow, func(count, delta int, description string, serial uint64) {
			fmt.Fprintf(stdout, "slow: count=%d delta=%+d %s serial=%d\n", count, delta, description, serial)
		})
	}
	if opts.debugPerm {
		w.EnablePermissionDebugging(refwatch.PermissionDebugConfig{
			Generator: refwatch.FuncAdapter[string, string](func(ctx context.Context, identity string) (string, error) {
				return memclient.DebugTokenPrefix + identity, nil
			}),
		})
	}

	root := w.Wrap(db.Connect())
	if opts.uid != "" {
		if _, err := root.AuthWithCustomToken(opts.uid, nil).Wait(ctx); err != nil {
			return err
		}
	}
	ref := root.Child(opts.path)

	var promise refwatch.Promise
	switch opts.op {
	case "set":
		promise = ref.Set(value, nil)
	case "update":
		values, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("update requires a JSON object value")
		}
		promise = ref.Update(values, nil)
	case "remove":
		promise = ref.Remove(nil)
	case "push":
		if value == nil {
			fmt.Fprintf(stdout, "push: %s\n", ref.Push(nil, nil).Path())
			return nil
		}
		future := refwatch.NewFuture()
		pushed := ref.Push(value, func(err error, results ...any) error {
			future.Settle(err, results...)
			return nil
		})
		fmt.Fprintf(stdout, "push: %s\n", pushed.Path())
		promise = future
	case "once":
		promise = ref.Once("value", func(snapshot any) {
			if snap, ok := snapshot.(*memclient.Snapshot); ok {
				data, _ := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(snap.Value)
				fmt.Fprintf(stdout, "value: %s\n", data)
			}
		}, nil)
	default:
		return fmt.Errorf("unknown operation: %s", opts.op)
	}

	if _, err := promise.Wait(ctx); err != nil {
		return fmt.Errorf("%s failed", opts.op)
	}
	fmt.Fprintf(stdout, "%s: ok\n", opts.op)
	return nil
}

// describe formats an error along with its diagnostic block.
func describe(err error) string {
	var e *refwatch.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	out := e.Extra.Description
	if e.Extra.Debug != "" {
		out += "\n" + e.Extra.Debug
	}
	return out
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
