package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

var errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
var headingStyle = lipgloss.NewStyle().Bold(true)

func colorEnabled() bool {
	return !plain && isatty.IsTerminal(os.Stderr.Fd())
}

// resultEnvelope is the --json shape every command emits on exit (spec §7
// "CLI commands support --json for machine-readable output").
type resultEnvelope struct {
	OK      bool   `json:"ok"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ok reports a successful result: data as a JSON envelope under --json, or
// human otherwise. It always returns nil so callers can `return ok(...)`
// directly from a cobra RunE.
func ok(data any, human func()) error {
	if jsonOut {
		out, _ := json.MarshalIndent(resultEnvelope{OK: true, Data: data}, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	human()
	return nil
}

// fail reports err: a JSON envelope under --json, or PrintError otherwise. It
// returns err unchanged so callers can `return fail(err)`, letting cobra's
// own exit-code handling (SilenceErrors suppresses its own printing) drive
// the process exit status.
func fail(err error) error {
	if jsonOut {
		env := resultEnvelope{OK: false, Message: err.Error()}
		if me := asMyceliumError(err); me != nil {
			env.Code = string(me.Code)
		}
		out, _ := json.MarshalIndent(env, "", "  ")
		fmt.Println(string(out))
		return err
	}
	PrintError(err)
	return err
}

// PrintError prints err to stderr with the structured What/Why/Fix rendering
// for *mycerrors.MyceliumError, falling back to a plain message otherwise
// (mirrors the teacher's cli.PrintError).
func PrintError(err error) {
	if me := asMyceliumError(err); me != nil {
		msg := me.UserMessage()
		if colorEnabled() {
			msg = errorStyle.Render(msg)
		}
		fmt.Fprintln(os.Stderr, msg)
		return
	}
	msg := fmt.Sprintf("Error: %v", err)
	if colorEnabled() {
		msg = errorStyle.Render(msg)
	}
	fmt.Fprintln(os.Stderr, msg)
}

func asMyceliumError(err error) *mycerrors.MyceliumError {
	var me *mycerrors.MyceliumError
	if mycerrors.As(err, &me) {
		return me
	}
	return nil
}

func heading(s string) string {
	if colorEnabled() {
		return headingStyle.Render(s)
	}
	return s
}
