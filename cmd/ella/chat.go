package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ellachat/ella/pkg/companion"
	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/memory"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// chatService is what the terminal session needs from the companion.
type chatService interface {
	GenerateReply(ctx context.Context, userKey, message string) (companion.Result, error)
	Profile(ctx context.Context, userKey string) (memory.UserProfile, bool, error)
	ResetUser(ctx context.Context, userKey string) (int, error)
	Stats() companion.Stats
}

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	infoColor   = color.New(color.FgHiBlack)
	errorColor  = color.New(color.FgRed)

	emotionColors = map[emotion.Label]*color.Color{
		emotion.Happy:   color.New(color.FgGreen),
		emotion.Sad:     color.New(color.FgBlue),
		emotion.Angry:   color.New(color.FgYellow),
		emotion.Neutral: color.New(color.FgWhite),
	}
)

func newChatCmd(flags *globalFlags) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to Ella in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			// Keep the conversation readable.
			if cfg.Log.Output == "stdout" {
				cfg.Log.Output = "stderr"
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := companion.Build(ctx, cfg, log, nil)
			if err != nil {
				return fmt.Errorf("build companion: %w", err)
			}
			defer func() {
				if err := svc.Close(); err != nil {
					log.Error("Error closing companion", "error", err)
				}
			}()

			return runChat(ctx, svc, cfg.Persona.Name, userID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User id the conversation is remembered under")
	return cmd
}

// runChat reads one message per line until EOF, /quit or ctx is done.
// Lines starting with a slash are session commands.
func runChat(ctx context.Context, svc chatService, persona, userID string, in io.Reader, out io.Writer) error {
	if persona == "" {
		persona = "Ella"
	}
	infoColor.Fprintf(out, "Chatting as %q. Type /help for commands.\n", userID)

	scanner := bufio.NewScanner(in)
	for {
		promptColor.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if quit := runChatCommand(ctx, svc, userID, line, out); quit {
				return nil
			}
			continue
		}

		result, err := svc.GenerateReply(ctx, userID, line)
		if err != nil {
			errorColor.Fprintf(out, "error: %v\n", err)
			continue
		}
		c, ok := emotionColors[result.Emotion]
		if !ok {
			c = emotionColors[emotion.Neutral]
		}
		c.Fprintf(out, "%s> %s\n", strings.ToLower(persona), result.ReplyText)
		infoColor.Fprintf(out, "   [%s, cost $%.6f]\n", result.Emotion, result.RunningCost)
	}
}

func runChatCommand(ctx context.Context, svc chatService, userID, line string, out io.Writer) (quit bool) {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/quit", "/exit":
		infoColor.Fprintln(out, "Bye!")
		return true
	case "/profile":
		p, known, err := svc.Profile(ctx, userID)
		if err != nil {
			errorColor.Fprintf(out, "error: %v\n", err)
			return false
		}
		if !known {
			infoColor.Fprintln(out, "Nothing remembered yet.")
			return false
		}
		name := p.Name
		if name == "" {
			name = "(unknown)"
		}
		infoColor.Fprintf(out, "name: %s\nlikes: %s\ndislikes: %s\n",
			name, strings.Join(p.Likes, ", "), strings.Join(p.Dislikes, ", "))
	case "/reset":
		n, err := svc.ResetUser(ctx, userID)
		if err != nil {
			errorColor.Fprintf(out, "error: %v\n", err)
			return false
		}
		infoColor.Fprintf(out, "Forgot %d stored turns.\n", n)
	case "/stats":
		st := svc.Stats()
		infoColor.Fprintf(out, "requests: %d  users: %d  cost: $%.6f  avg: %s\n",
			st.RequestCount, st.TotalUsers, st.TotalCost, st.AverageResponseTime)
	case "/help":
		infoColor.Fprintln(out, "/profile  show what Ella remembers about you")
		infoColor.Fprintln(out, "/reset    forget you")
		infoColor.Fprintln(out, "/stats    service counters")
		infoColor.Fprintln(out, "/quit     leave")
	default:
		errorColor.Fprintf(out, "unknown command %s\n", line)
	}
	return false
}
