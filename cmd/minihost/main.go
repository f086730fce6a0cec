// Command minihost runs mini-program scripts against the host capability
// surface and inspects the capabilities it provides.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/reglet-dev/minihost"
	"github.com/reglet-dev/minihost/config"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/jsbridge"
)

const appName = "minihost"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		os.Exit(cmdRun(args))
	case "repl":
		os.Exit(cmdRepl(args))
	case "capabilities":
		os.Exit(cmdCapabilities(args))
	case "schema":
		os.Exit(cmdSchema(args))
	case "call":
		os.Exit(cmdCall(args))
	case "version":
		fmt.Println(minihost.DefaultHostVersion)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Printf(`minihost %s

Usage:
  %s run [--app app.json] [--manifest file]... <script.js|.ts>
  %s repl [--app app.json] [--manifest file]...
  %s capabilities [--app app.json] [--json]
  %s schema [--app app.json] [--response] <name>
  %s call <name> [json]
  %s version

Configuration is read from .env and MINIHOST_* environment variables.
`, minihost.DefaultHostVersion, appName, appName, appName, appName, appName, appName)
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func envFlags(fs *flag.FlagSet) *envOptions {
	opts := &envOptions{}
	fs.StringVar(&opts.appConfig, "app", "", "app config (app.json) declaring permissions, domains and subpackages")
	fs.Var((*stringList)(&opts.manifests), "manifest", "capability manifest to register (repeatable)")
	return opts
}

func loadConfig() (*config.Config, bool) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return nil, false
	}
	return cfg, true
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	opts := envFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s run [flags] <script.js|.ts>\n", appName)
		return 2
	}
	file := fs.Arg(0)
	src, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, file, err)
		return 1
	}

	cfg, ok := loadConfig()
	if !ok {
		return 1
	}
	e, err := newEnv(cfg, *opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	defer e.Close()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		e.logger.Info("interrupted")
		os.Exit(130)
	}()

	bridge := jsbridge.New(e.loop, e.host, jsbridge.WithLogger(e.logger))
	e.loop.Post(e.host.Show)
	if err := bridge.Run(scriptName(file), string(src)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func cmdCapabilities(args []string) int {
	fs := flag.NewFlagSet("capabilities", flag.ContinueOnError)
	opts := envFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, ok := inspect(*opts)
	if !ok {
		return 1
	}
	defer e.Close()
	h := e.host

	type row struct {
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		MinVersion  string `json:"minVersion,omitempty"`
		Scope       string `json:"scope,omitempty"`
		SyncVariant string `json:"syncVariant,omitempty"`
		Task        string `json:"task,omitempty"`
		Description string `json:"description,omitempty"`
	}
	caps := h.Capabilities()
	rows := make([]row, len(caps))
	for i, c := range caps {
		rows[i] = row{
			Name:        c.Name,
			Kind:        string(c.Kind),
			MinVersion:  c.MinVersion,
			Scope:       c.Scope,
			SyncVariant: c.SyncVariant,
			Task:        c.Task,
			Description: c.Description,
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
			return 1
		}
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSCOPE\tDESCRIPTION")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, lo.Ternary(r.Scope == "", "-", r.Scope), r.Description)
	}
	_ = tw.Flush()
	return 0
}

func cmdSchema(args []string) int {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	opts := envFlags(fs)
	response := fs.Bool("response", false, "print the response schema instead of the params schema")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s schema [--response] <name>\n", appName)
		return 2
	}
	e, ok := inspect(*opts)
	if !ok {
		return 1
	}
	defer e.Close()
	h := e.host
	name := fs.Arg(0)
	if _, err := h.Registry().Resolve(name); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	get := h.Registry().Schema
	if *response {
		get = h.Registry().ResponseSchema
	}
	s, found := get(name)
	if !found {
		fmt.Fprintf(os.Stderr, "%s: %s has no schema\n", appName, name)
		return 1
	}
	fmt.Println(s)
	return 0
}

func cmdCall(args []string) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	opts := envFlags(fs)
	timeout := fs.Duration("timeout", 30*time.Second, "how long to wait for the result")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fmt.Fprintf(os.Stderr, "usage: %s call [flags] <name> [json]\n", appName)
		return 2
	}
	payload := []byte(fs.Arg(1))

	e, ok := inspect(*opts)
	if !ok {
		return 1
	}
	defer e.Close()
	e.loop.Start()
	defer e.loop.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	v, err := e.host.Call(ctx, fs.Arg(0), payload)
	if err != nil {
		var he *hosterr.Error
		if errors.As(err, &he) {
			fmt.Fprintf(os.Stderr, "%s:fail %s (errCode %d)\n", fs.Arg(0), he.Message, he.Code)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		return 1
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

// inspect builds the configured host without running anything on it.
func inspect(opts envOptions) (*env, bool) {
	cfg, ok := loadConfig()
	if !ok {
		return nil, false
	}
	e, err := newEnv(cfg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return nil, false
	}
	return e, true
}
