package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
	"github.com/xkilldash9x/ctlbridge/internal/agent"
	"github.com/xkilldash9x/ctlbridge/internal/engine"
	"github.com/xkilldash9x/ctlbridge/internal/humanoid"
	"github.com/xkilldash9x/ctlbridge/internal/simulation"
)

const consoleHelp = `commands:
  t | toggle          flip control between operator and decision server
  ai | human          take or hand over control explicitly
  press <key>         hold a key (forward back left right jump sneak sprint attack use)
  release <key|all>   let go of a key
  stats               print counters
  fail                make the arena unreadable, tripping the fail-safe
  q | quit            stop
`

// operatorConsole is the operator's side of the bridge: mode switches and
// keyboard input typed line by line.
type operatorConsole struct {
	out    io.Writer
	orch   *agent.Orchestrator
	kb     *humanoid.Keyboard
	arena  *simulation.Arena
	loop   *engine.TickLoop
	cancel context.CancelFunc
}

// run processes lines until ctx is done or the operator quits. End of input
// leaves the bridge running.
func (c *operatorConsole) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if c.handle(strings.TrimSpace(line)) {
				c.cancel()
				return nil
			}
		}
	}
}

// handle executes one command and reports whether the operator asked to quit.
func (c *operatorConsole) handle(line string) bool {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return true
	case "t", "toggle":
		fmt.Fprintf(c.out, "mode=%s\n", c.orch.Toggle())
	case "ai":
		c.orch.SetMode(schemas.ModeAI)
		fmt.Fprintf(c.out, "mode=%s\n", c.orch.Mode())
	case "human":
		c.orch.SetMode(schemas.ModeHuman)
		fmt.Fprintf(c.out, "mode=%s\n", c.orch.Mode())
	case "press", "release":
		c.setKey(fields)
	case "stats":
		printStats(c.out, c.orch, c.arena, c.loop)
	case "fail":
		c.arena.Stop()
		fmt.Fprintln(c.out, "arena stopped")
	default:
		fmt.Fprint(c.out, consoleHelp)
	}
	return false
}

func (c *operatorConsole) setKey(fields []string) {
	if len(fields) != 2 {
		fmt.Fprintf(c.out, "usage: %s <key>\n", fields[0])
		return
	}
	down := fields[0] == "press"
	if !down && fields[1] == "all" {
		c.kb.ReleaseAll()
		return
	}
	key, ok := humanoid.ParseKey(fields[1])
	if !ok {
		fmt.Fprintf(c.out, "unknown key %q\n", fields[1])
		return
	}
	if down && c.orch.Mode() == schemas.ModeAI {
		fmt.Fprintln(c.out, "operator input is ignored while the decision server has control")
	}
	c.kb.Set(key, down)
}

func printStats(w io.Writer, orch *agent.Orchestrator, arena *simulation.Arena, loop *engine.TickLoop) {
	s := orch.Stats()
	a := arena.Stats()
	l := loop.Stats()
	fmt.Fprintf(w, "mode=%s degraded=%t failures=%d/%d last_intent=%s confidence=%.2f\n",
		s.Mode, s.Degraded, s.ConsecutiveFailures, s.MaxConsecutiveFailures, s.LastIntent, s.LastConfidence)
	fmt.Fprintf(w, "requests submitted=%d dropped=%d rejected=%d decided=%d failed=%d\n",
		s.Submitted, s.Dropped, s.Rejected, s.Decided, s.Failed)
	fmt.Fprintf(w, "ticks=%d errors=%d overruns=%d alive=%t health=%.1f kills=%d deaths=%d\n",
		l.Ticks, l.Errors, l.Overruns, a.Alive, a.Health, a.Kills, a.Deaths)
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
