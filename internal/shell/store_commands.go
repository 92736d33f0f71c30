package shell

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"keyval/pkg/keyval"
)

// RegisterStoreCommands registers the commands that operate on the
// shell's store.
func RegisterStoreCommands(reg *Registry) {
	reg.Register("get", Command{
		Usage:   "get <key>",
		Help:    "print the value stored under key",
		Handler: handleGet,
	})

	reg.Register("set", Command{
		Usage:   "set <key> <value>",
		Help:    "store a value (JSON literals are parsed for json and proto codecs)",
		Handler: handleSet,
	})

	reg.Register("del", Command{
		Usage:   "del <key>",
		Help:    "delete a key",
		Handler: handleDel,
	})

	reg.Register("clear", Command{
		Help:    "delete every key",
		Handler: handleClear,
	})

	reg.Register("keys", Command{
		Help:    "list keys in order",
		Handler: handleKeys,
	})

	reg.Register("stats", Command{
		Help:    "show operation counters",
		Handler: handleStats,
	})
}

func handleGet(ctx CommandContext) bool {
	if len(ctx.Args) != 1 {
		_, _ = fmt.Fprintln(ctx.Terminal, "Usage: get <key>")
		return false
	}
	key := ctx.Args[0]
	val, found, err := ReadValue(ctx.Ctx, ctx.Store, key)
	switch {
	case err != nil:
		_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
	case !found:
		_, _ = fmt.Fprintf(ctx.Terminal, "%s: not found\r\n", key)
	default:
		_, _ = fmt.Fprintf(ctx.Terminal, "%s = %s\r\n", key, val)
	}
	return false
}

func handleSet(ctx CommandContext) bool {
	if len(ctx.Args) < 2 {
		_, _ = fmt.Fprintln(ctx.Terminal, "Usage: set <key> <value>")
		return false
	}
	key := ctx.Args[0]
	text := strings.Join(ctx.Args[1:], " ")
	if err := WriteValue(ctx.Ctx, ctx.Store, key, text); err != nil {
		_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
		return false
	}
	_, _ = fmt.Fprintf(ctx.Terminal, "Set %s = %s\r\n", key, text)
	return false
}

func handleDel(ctx CommandContext) bool {
	if len(ctx.Args) != 1 {
		_, _ = fmt.Fprintln(ctx.Terminal, "Usage: del <key>")
		return false
	}
	if err := ctx.Store.Del(ctx.Ctx, ctx.Args[0]); err != nil {
		_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
		return false
	}
	_, _ = fmt.Fprintf(ctx.Terminal, "Deleted %s\r\n", ctx.Args[0])
	return false
}

func handleClear(ctx CommandContext) bool {
	if err := ctx.Store.Clear(ctx.Ctx); err != nil {
		_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
		return false
	}
	_, _ = fmt.Fprintf(ctx.Terminal, "Cleared %s/%s\r\n", ctx.Store.DatabaseName(), ctx.Store.ObjectStoreName())
	return false
}

func handleKeys(ctx CommandContext) bool {
	keys, err := ctx.Store.Keys(ctx.Ctx)
	if err != nil {
		_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
		return false
	}
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(ctx.Terminal, "Keys: (empty)")
		return false
	}
	_, _ = fmt.Fprintf(ctx.Terminal, "Keys (%d):\r\n", len(keys))
	for _, k := range keys {
		_, _ = fmt.Fprintf(ctx.Terminal, "  %s\r\n", FormatKey(k))
	}
	return false
}

func handleStats(ctx CommandContext) bool {
	var buf bytes.Buffer
	keyval.WriteMetrics(&buf)
	sc := bufio.NewScanner(&buf)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "keyval_") || strings.Contains(line, "_bucket{") {
			continue
		}
		_, _ = fmt.Fprintf(ctx.Terminal, "  %s\r\n", line)
		n++
	}
	if n == 0 {
		_, _ = fmt.Fprintln(ctx.Terminal, "Stats: (none)")
	}
	return false
}
