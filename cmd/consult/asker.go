package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gene-999/emycin/pkg/emycin"
	"github.com/gene-999/emycin/pkg/emycin/engine"
)

// consoleAsker reads operator answers line by line, resolving the
// help/?/why/rule meta-commands locally and only returning real answers
// (or an explicit unknown) to the engine.
type consoleAsker struct {
	in  *bufio.Scanner
	out io.Writer
}

func newConsoleAsker(in *bufio.Scanner, out io.Writer) *consoleAsker {
	return &consoleAsker{in: in, out: out}
}

// Ask implements engine.Asker.
func (a *consoleAsker) Ask(ctx context.Context, q engine.Question) (engine.Reply, error) {
	if q.Invalid != nil {
		fmt.Fprintln(a.out, "Invalid response. Type ? to see legal ones.")
	}

	for {
		fmt.Fprintf(a.out, "What is the %s of %s? ", q.Param.Name, q.Instance.DisplayName())
		if !a.in.Scan() {
			if err := a.in.Err(); err != nil {
				return engine.Reply{}, err
			}
			// EOF reads as declining the question.
			return engine.Reply{Unknown: true}, nil
		}

		resp := strings.TrimSpace(a.in.Text())
		switch resp {
		case "":
			continue
		case "unknown":
			return engine.Reply{Unknown: true}, nil
		case "help":
			fmt.Fprintln(a.out, emycin.Help)
		case "why":
			fmt.Fprintln(a.out, q.WhyAsking())
		case "rule":
			fmt.Fprintln(a.out, q.CurrentRule())
		case "?":
			fmt.Fprintf(a.out, "%s must be of type %s\n", q.Param.Name, q.Param.TypeString())
		default:
			answers, err := emycin.ParseReply(q.Param, resp)
			if err != nil {
				fmt.Fprintln(a.out, "Invalid response. Type ? to see legal ones.")
				continue
			}
			return engine.Reply{Answers: answers}, nil
		}
	}
}
