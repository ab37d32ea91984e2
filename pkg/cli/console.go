package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/usecase/chat"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type consoleConfig struct {
	page        string
	userID      string
	userName    string
	historyFile string
}

func consoleCommand() *cli.Command {
	cfg := newConfig()
	var cc consoleConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "page",
			Usage:       "Slug of the page the assistant is mounted on",
			Value:       "fractional-cfo-jobs",
			Destination: &cc.page,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "Signed-in user ID; anonymous when empty",
			Sources:     cli.EnvVars("COPILOT_USER_ID"),
			Destination: &cc.userID,
		},
		&cli.StringFlag{
			Name:        "user-name",
			Usage:       "Display name of the signed-in user",
			Destination: &cc.userName,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "Readline history file",
			Destination: &cc.historyFile,
		},
	}
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	flags = append(flags, sessionFlags(cfg)...)
	flags = append(flags, cfg.tools.Flags()...)

	return &cli.Command{
		Name:  "console",
		Usage: "Talk to the assistant from the terminal as if mounted on a page",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			env, err := cfg.setup(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			page, err := env.catalog.Page(cc.page)
			if err != nil {
				return err
			}
			var user *model.User
			if cc.userID != "" {
				user = &model.User{ID: cc.userID, Name: cc.userName}
			}

			input := env.input
			input.Page = page
			input.User = user
			session, err := chat.New(ctx, input)
			if err != nil {
				return goerr.Wrap(err, "failed to mount session")
			}
			defer func() {
				if err := session.Close(context.WithoutCancel(ctx)); err != nil {
					logging.From(ctx).Warn("failed to close session", "error", err)
				}
			}()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     cc.historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			return runConsole(ctx, rl, session)
		},
	}
}

// runConsole reads user lines until EOF, sending each as a chat message
func runConsole(ctx context.Context, rl *readline.Instance, session *chat.Session) error {
	out := rl.Stdout()
	fmt.Fprintf(out, "Assistant mounted on %q. Type a message, Ctrl-D to quit.\n", session.Page().Title)

	events, unsubscribe := session.Events()
	defer unsubscribe()

	prompts := make(chan *model.ToolCall, 4)
	go printEvents(out, events, prompts)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := session.Send(ctx, line); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		waitTurn(ctx, rl, session, prompts)
	}
}

// waitTurn spins until the agent is idle, answering confirmations on the way
func waitTurn(ctx context.Context, rl *readline.Instance, session *chat.Session, prompts <-chan *model.ToolCall) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(rl.Stderr()))
	sp.Suffix = " thinking"
	sp.Start()
	defer sp.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case call := <-prompts:
			sp.Stop()
			answerConfirmation(ctx, rl, session, call)
			sp.Start()
		case <-ticker.C:
			if !session.Busy() {
				return
			}
		}
	}
}

func answerConfirmation(ctx context.Context, rl *readline.Instance, session *chat.Session, call *model.ToolCall) {
	args, _ := call.Args.(model.ConfirmJobInterestArgs)
	question := fmt.Sprintf("Interested in %s at %s (%s)? Remember it? [y/N/remember] ", args.JobTitle, args.Company, args.Location)

	prev := rl.Config.Prompt
	rl.SetPrompt(question)
	defer rl.SetPrompt(prev)

	answer, err := rl.Readline()
	if err != nil {
		answer = ""
	}

	var in chat.ConfirmInput
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		in.Confirmed = true
	case "r", "remember":
		in.Confirmed = true
		in.Remember = true
	}

	if err := session.Confirm(ctx, call.ID, in); err != nil {
		fmt.Fprintf(rl.Stdout(), "! %v\n", err)
	}
}

// printEvents writes the session events and forwards confirmations awaiting an answer
func printEvents(w io.Writer, events <-chan chat.Event, prompts chan<- *model.ToolCall) {
	for ev := range events {
		switch ev.Type {
		case chat.EventMessage:
			if ev.Message != nil && ev.Message.Role == model.MemoryRoleAssistant {
				fmt.Fprintf(w, "\n%s\n", ev.Message.Content)
			}

		case chat.EventToolCall:
			if call := ev.ToolCall; call != nil && call.Status.IsTerminal() {
				fmt.Fprintf(w, "  [%s] %s\n", call.Kind, summarize(call))
			}

		case chat.EventConfirmation:
			call := ev.ToolCall
			if call != nil && call.Confirmation != nil && call.Confirmation.State == model.ConfirmationAwaiting {
				prompts <- call
			}

		case chat.EventGraph:
			if ev.Graph != nil && !ev.Graph.IsEmpty() {
				fmt.Fprintf(w, "  [graph] %d remembered entities\n", len(ev.Graph.Nodes)-1)
			}
		}
	}
}

func summarize(call *model.ToolCall) string {
	if call.Status == model.ToolStatusError {
		return "failed: " + call.Error
	}
	switch call.Kind {
	case model.ToolSearchJobs:
		if total, ok := call.Result["total"]; ok {
			return fmt.Sprintf("%v jobs", total)
		}
	case model.ToolConfirmJobInterest:
		if confirmed, ok := call.Result["confirmed"].(bool); ok && confirmed {
			return "confirmed"
		}
		return "declined"
	}
	return string(call.Status)
}
