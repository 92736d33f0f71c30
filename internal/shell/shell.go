// Package shell is an interactive line editor over a keyval.Store.
package shell

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"

	"keyval/internal/logging"
	"keyval/pkg/keyval"
)

var logger = logging.For("shell")

// Shell reads commands from a terminal and runs them against one store.
type Shell struct {
	store    *keyval.Store
	commands *Registry
}

// New returns a shell over s with the builtin and store commands
// registered. Callers may register more through Commands before Run.
func New(s *keyval.Store) *Shell {
	reg := NewRegistry()
	RegisterStoreCommands(reg)
	reg.RegisterBuiltins()
	return &Shell{store: s, commands: reg}
}

func (sh *Shell) Commands() *Registry {
	return sh.commands
}

// Run reads lines from rw until quit, EOF or ctx is done.
func (sh *Shell) Run(ctx context.Context, rw io.ReadWriter) error {
	sh.commands.Freeze()
	prompt := fmt.Sprintf("[%s/%s]> ", sh.store.DatabaseName(), sh.store.ObjectStoreName())
	terminal := term.NewTerminal(rw, prompt)

	_, _ = fmt.Fprintf(terminal, "keyval shell on %s/%s (codec %s)\r\n",
		sh.store.DatabaseName(), sh.store.ObjectStoreName(), sh.store.Codec().Name())
	_, _ = fmt.Fprintln(terminal, "Type help for commands.")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := terminal.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			logger.Debug("shell read failed", "err", err)
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sh.commands.Dispatch(ctx, line, sh.store, terminal) {
			return nil
		}
	}
}
