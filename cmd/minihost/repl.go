package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/reglet-dev/minihost/jsbridge"
)

const (
	historyFile = ".minihost_history"
	promptMain  = "wx> "
	promptCont  = "... "
)

func red(s string) string { return "\x1b[31m" + s + "\x1b[0m" }

func cmdRepl(args []string) int {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	opts := envFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, ok := inspect(*opts)
	if !ok {
		return 1
	}
	defer e.Close()
	e.loop.Start()
	defer e.loop.Stop()

	bridge := jsbridge.New(e.loop, e.host, jsbridge.WithLogger(e.logger))
	fmt.Printf("minihost %s REPL\nCtrl+C cancels input, Ctrl+D exits. Type :quit to exit.\n", e.host.Registry().HostVersion())

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	e.host.Show()
	for {
		code, ok := readStatement(ln)
		if !ok {
			fmt.Println()
			break
		}
		switch strings.TrimSpace(code) {
		case "":
			continue
		case ":quit":
			return 0
		}
		out, err := bridge.Eval(context.Background(), code)
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			continue
		}
		fmt.Println(out)
	}
	e.host.Hide()
	return 0
}

// readStatement reads lines until brackets balance. It returns false at
// end of input.
func readStatement(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if depth(b.String()) <= 0 {
			return b.String(), true
		}
	}
}

// depth counts unclosed brackets outside string literals.
func depth(src string) int {
	n := 0
	var quote rune
	escaped := false
	for _, r := range src {
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if r == '\\' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == '(' || r == '[' || r == '{':
			n++
		case r == ')' || r == ']' || r == '}':
			n--
		}
	}
	return n
}
