package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/keagan/slopstudio/internal/compositor"
	"github.com/keagan/slopstudio/internal/engine"
	"github.com/keagan/slopstudio/internal/store"
	"github.com/keagan/slopstudio/pkg/util"
)

const shellHelp = `Type an instruction for the director, or:
  /layers [pos]   show the layers active at a position
  /history        print the transcript
  /export         render on the director and print the URL
  /quit           leave`

// shell is the interactive director prompt
type shell struct {
	session *engine.Session
	out     io.Writer
}

func runShell(ctx context.Context, s *engine.Session, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "director> ",
		HistoryFile:     util.HomePath(".slopstudio", "history"),
		AutoComplete:    shellCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	sh := &shell{session: s, out: out}
	fmt.Fprintf(out, "session %s\n%s\n", s.ID(), shellHelp)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if sh.handle(ctx, line) {
			return nil
		}
	}
}

func shellCompleter() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/layers"),
		readline.PcItem("/history"),
		readline.PcItem("/export"),
		readline.PcItem("/quit"),
	)
}

// handle runs one line and reports whether the shell should exit
func (sh *shell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		sh.chat(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(sh.out, shellHelp)
	case "/history":
		for _, m := range sh.session.Transcript() {
			printMessage(sh.out, m)
		}
	case "/layers":
		at := 0.0
		if arg = strings.TrimSpace(arg); arg != "" {
			v, err := util.ParseSeconds(arg)
			if err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
				return false
			}
			at = v
		}
		printLayers(sh.out, sh.session.Compositor().Compose(at))
	case "/export":
		url, err := sh.session.Export(ctx)
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(sh.out, url)
	default:
		fmt.Fprintf(sh.out, "unknown command %s\n", cmd)
	}
	return false
}

// chat sends the prompt and waits for the reply so the prompt returns
// with the answer printed
func (sh *shell) chat(ctx context.Context, prompt string) {
	seen := len(sh.session.Transcript())
	if err := sh.session.Chat(ctx, prompt); err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
		return
	}
	sh.session.Wait()

	replied := false
	for _, m := range sh.session.Transcript()[seen:] {
		if m.Role == store.RoleAI {
			printMessage(sh.out, m)
			replied = true
		}
	}
	if !replied {
		fmt.Fprintln(sh.out, "(no reply from the director, nothing changed)")
	}
}

func printMessage(w io.Writer, m store.Message) {
	who := "you"
	if m.Role == store.RoleAI {
		who = "director"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), who, m.Content)
}

func printLayers(w io.Writer, scene compositor.Scene) {
	fmt.Fprintf(w, "at %s\n", util.FormatClock(scene.Time))
	for _, l := range scene.Layers {
		fmt.Fprintf(w, "  %s\n", l.String())
	}
}
