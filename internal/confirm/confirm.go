// Package confirm is the operator-confirmation port. Flows that need a
// human decision (joining a group under a real account) ask through the
// Confirmer interface instead of blocking on a concrete UI.
package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Ask(ctx context.Context, title, message string) (bool, error)
}

// Stdio prompts on the terminal. Reads run in a goroutine so a
// cancelled context unblocks the caller even with stdin still open.
type Stdio struct {
	In  io.Reader
	Out io.Writer
}

// NewStdio builds a terminal confirmer.
func NewStdio(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{In: in, Out: out}
}

func (s *Stdio) Ask(ctx context.Context, title, message string) (bool, error) {
	fmt.Fprintf(s.Out, "%s\n%s [y/N]: ", title, message)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(s.In).ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-ch:
		if r.err != nil && r.line == "" {
			return false, eris.Wrap(r.err, "confirm: read answer")
		}
		answer := strings.ToLower(strings.TrimSpace(r.line))
		return answer == "y" || answer == "yes", nil
	}
}

// Auto answers every question the same way. Used by the HTTP server,
// where no operator terminal exists.
type Auto struct {
	Answer bool
}

func (a Auto) Ask(context.Context, string, string) (bool, error) {
	return a.Answer, nil
}
