package shell

import (
	"io"
	"os"
	"testing"

	"golang.org/x/term"

	"keyval/internal/store/bolt"
	"keyval/pkg/keyval"
)

// readWriter combines separate read and write halves into an io.ReadWriter.
type readWriter struct {
	io.Reader
	io.Writer
}

// mockTerminal creates a term.Terminal backed by an os.Pipe. The returned
// function closes the write half and returns everything written.
func mockTerminal(t *testing.T) (*term.Terminal, func() string) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	t.Cleanup(func() { _ = w.Close() })
	terminal := term.NewTerminal(readWriter{r, w}, "> ")
	readOutput := func() string {
		_ = w.Close()
		data, _ := io.ReadAll(r)
		return string(data)
	}
	return terminal, readOutput
}

func testStore(t *testing.T, codec keyval.Codec) *keyval.Store {
	t.Helper()
	f := bolt.NewFactory(t.TempDir())
	t.Cleanup(func() { _ = f.Close() })
	return keyval.NewStore("shell-test", "kv", keyval.WithFactory(f), keyval.WithCodec(codec))
}
