// Package console runs the blocking interactive operator console. The console is
// a trusted surface: commands execute without a permission gate.
package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/caesarakalaeii/streamer-shield-bot/shield"
)

var (
	promptColor = color.New(color.FgCyan)
	replyColor  = color.New(color.FgGreen)
)

// Console reads line-oriented commands: a command name optionally followed by one
// whitespace-delimited argument. Unrecognized or malformed input is reported,
// never fatal.
type Console struct {
	Coord *shield.Coordinator
	In    io.Reader // defaults to os.Stdin
	Out   io.Writer // defaults to os.Stdout
}

// Run processes commands until the context is canceled or input ends.
func (c *Console) Run(ctx context.Context) error {
	in := c.In
	if in == nil {
		in = os.Stdin
	}
	out := c.Out
	if out == nil {
		out = os.Stdout
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	if _, err := promptColor.Fprintln(out, "type help for available commands"); err != nil {
		slog.Warn("console write failed", slog.Any("err", err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			c.dispatch(ctx, strings.TrimSpace(line), out)
		}
	}
}

func (c *Console) dispatch(ctx context.Context, line string, out io.Writer) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	name := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	c.Coord.Execute(ctx, shield.SurfaceConsole, name, arg, shield.Actor{}, func(text string) {
		if _, err := replyColor.Fprintln(out, text); err != nil {
			slog.Warn("console write failed", slog.Any("err", err))
		}
	})
}
