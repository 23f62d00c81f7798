package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"clearClient/internal/txflow"
)

// promptConfirmer asks on the terminal before anything is signed.
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
}

// newPromptConfirmer reuses in when it is already buffered, so a console and
// its confirmer read the same stream.
func newPromptConfirmer(in io.Reader, out io.Writer, yes bool) *promptConfirmer {
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &promptConfirmer{in: br, out: out, yes: yes}
}

func (p *promptConfirmer) Confirm(ctx context.Context, intent txflow.Intent) (bool, error) {
	fmt.Fprintf(p.out, "%s: %s\n", intent.Kind, intent.Summary)
	if p.yes {
		return true, nil
	}
	fmt.Fprint(p.out, "sign and send? [y/N] ")

	line, err := readLine(ctx, p.in)
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// readLine reads one line, giving up when ctx ends. Callers keep at most one
// read outstanding on in.
func readLine(ctx context.Context, in *bufio.Reader) (string, error) {
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		return a.line, a.err
	}
}
