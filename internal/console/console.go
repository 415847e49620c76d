// Package console reads operator commands, one per line.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"launchpilot/internal/pipeline"
)

// Target is what the console controls. *pipeline.Pipeline satisfies it.
type Target interface {
	Control() *pipeline.Control
	Status() pipeline.Status
}

type Console struct {
	target Target
	out    io.Writer
	exit   func(code int)
	logger *zap.Logger
}

func New(target Target, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{target: target, out: out, exit: os.Exit, logger: logger}
}

// SetExit replaces the process exit used by the exit verb.
func (c *Console) SetExit(fn func(code int)) {
	c.exit = fn
}

// Run returns nil on EOF and ctx.Err() on cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	c.printf("commands: status | pause (alias: sell) | resume | exit | help\n")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("console read: %w", err)
			}
			return nil
		case line := <-lines:
			c.Execute(line)
		}
	}
}

// Execute runs a single command line.
func (c *Console) Execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	verb := strings.ToLower(fields[0])
	control := c.target.Control()

	switch verb {
	case "status":
		c.printStatus(c.target.Status())
	case "pause", "sell":
		if control.Pause() {
			c.logger.Info("selling-paused", zap.String("source", "console"))
			c.printf("selling paused; pending sells are held until resume\n")
		} else {
			c.printf("selling already paused\n")
		}
	case "resume":
		if control.Resume() {
			c.logger.Info("selling-resumed", zap.String("source", "console"))
			c.printf("selling resumed\n")
		} else {
			c.printf("selling is not paused\n")
		}
	case "exit":
		c.logger.Warn("exit-requested", zap.String("source", "console"))
		c.printf("exiting\n")
		c.exit(0)
	case "help":
		c.printf("status   show pipeline state\n")
		c.printf("pause    hold all sells (alias: sell)\n")
		c.printf("resume   release held sells\n")
		c.printf("exit     stop immediately, abandoning in-flight work\n")
	default:
		c.printf("unrecognized command: %s\n", fields[0])
	}
}

func (c *Console) printStatus(st pipeline.Status) {
	state := "active"
	if st.SellingPaused {
		state = "paused"
	}
	c.printf("listener=%s selling=%s last_block=%d uptime=%s\n", st.Listener, state, st.LastBlock, st.Uptime)
	c.printf("decoded=%d decode_errors=%d duplicates=%d bought=%d buy_failed=%d\n",
		st.Decoded, st.DecodeErrors, st.Duplicates, st.Bought, st.BuyFailed)
	c.printf("sold=%d sell_skipped=%d sell_failed=%d sells_active=%d sells_parked=%d\n",
		st.Sold, st.SellSkipped, st.SellFailed, st.SellsActive, st.SellsParked)
	c.printf("tokens_in_flight=%d queue_a=%d queue_b=%d\n", st.TokensInFlight, st.QueueA, st.QueueB)
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
