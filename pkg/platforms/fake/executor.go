// Package fake provides a scripted platforms.Executor for tests.
package fake

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/solo-io/kubegcore/pkg/platforms"
)

// Rule answers every command whose joined form contains Match.
// Stdout is written before Err is returned, so a rule can model an
// interrupted stream.
type Rule struct {
	Match  string
	Stdout string
	Err    error
}

// Call is one recorded invocation.
type Call struct {
	Pod     platforms.PodRef
	Command []string
}

func (c Call) String() string {
	return strings.Join(c.Command, " ")
}

// Executor answers with the most recently added matching rule.
// Commands that match no rule succeed with empty output.
type Executor struct {
	mu    sync.Mutex
	rules []Rule
	calls []Call
}

func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) On(match, stdout string, err error) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, Rule{Match: match, Stdout: stdout, Err: err})
	return e
}

func (e *Executor) Exec(ctx context.Context, pod platforms.PodRef, cmd []string, stdout io.Writer) error {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Pod: pod, Command: append([]string{}, cmd...)})
	joined := strings.Join(cmd, " ")
	var rule *Rule
	for i := len(e.rules) - 1; i >= 0; i-- {
		if strings.Contains(joined, e.rules[i].Match) {
			rule = &e.rules[i]
			break
		}
	}
	e.mu.Unlock()

	if rule == nil {
		return nil
	}
	if rule.Stdout != "" {
		if _, err := io.WriteString(stdout, rule.Stdout); err != nil {
			return err
		}
	}
	if rule.Err != nil {
		return &platforms.ExecError{Command: cmd, Stderr: rule.Err.Error(), Err: rule.Err}
	}
	return nil
}

func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call{}, e.calls...)
}

// Count returns how many recorded commands contain match.
func (e *Executor) Count(match string) int {
	n := 0
	for _, c := range e.Calls() {
		if strings.Contains(c.String(), match) {
			n++
		}
	}
	return n
}

// Index returns the position of the first command containing match, or -1.
func (e *Executor) Index(match string) int {
	for i, c := range e.Calls() {
		if strings.Contains(c.String(), match) {
			return i
		}
	}
	return -1
}
