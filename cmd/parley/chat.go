package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/entrhq/parley/pkg/agent"
	"github.com/entrhq/parley/pkg/server"
	"github.com/entrhq/parley/pkg/session"
	"github.com/entrhq/parley/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatSession  string
	chatUserName string
	chatUserID   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the engine from the terminal",
	Long: `Reads one message per line from stdin and prints each reply.

Type /clear to reset the session or /exit to quit. Without --session a new
session id is generated and printed.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session id to continue")
	chatCmd.Flags().StringVar(&chatUserName, "name", "", "User name passed to the prompt")
	chatCmd.Flags().StringVar(&chatUserID, "user", "", "User id for long-term fact recall")
}

func runChat(cmd *cobra.Command, args []string) error {
	orch, store, err := buildEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	if verbose {
		events := make(chan *types.AgentEvent, 64)
		orch.SetEventChannel(events)
		go printEvents(cmd.ErrOrStderr(), events)
		defer close(events)
	}

	id := chatSession
	if id == "" {
		id = uuid.NewString()
		fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", id)
	}

	c := &chatLoop{
		engine:   orch,
		locks:    session.NewLocker(),
		session:  id,
		userName: chatUserName,
		userID:   chatUserID,
	}
	return c.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatLoop feeds lines from a reader to the engine.
type chatLoop struct {
	engine   server.Engine
	locks    *session.Locker
	session  string
	userName string
	userID   string
}

func (c *chatLoop) run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			if err := c.clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "(session cleared)")
			continue
		}

		reply, err := c.turn(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, agent.ErrValidation) {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			return err
		}
		fmt.Fprintf(out, "%s\n\n", reply)
	}
}

func (c *chatLoop) turn(ctx context.Context, text string) (string, error) {
	unlock := c.locks.Lock(c.session)
	defer unlock()

	result, err := c.engine.SubmitTurn(ctx, agent.TurnRequest{
		SessionID: c.session,
		Text:      text,
		UserName:  c.userName,
		UserID:    c.userID,
	})
	if err != nil {
		return "", err
	}
	return result.Reply, nil
}

func (c *chatLoop) clear(ctx context.Context) error {
	unlock := c.locks.Lock(c.session)
	defer unlock()
	return c.engine.ClearSession(ctx, c.session)
}

func printEvents(w io.Writer, events <-chan *types.AgentEvent) {
	for e := range events {
		switch e.Type {
		case types.EventTypeStageTransition:
			fmt.Fprintf(w, "[stage %d -> %d]\n", e.StageTransition.From, e.StageTransition.To)
		case types.EventTypeRetry:
			fmt.Fprintf(w, "[retry %d: %v]\n", e.Attempt, e.Error)
		case types.EventTypeDuplicateRegenerated, types.EventTypeStageNudge,
			types.EventTypeContextSummarizationComplete, types.EventTypeContextSummarizationError:
			fmt.Fprintf(w, "[%s]\n", e.Type)
		case types.EventTypeTokenUsage:
			fmt.Fprintf(w, "[tokens %d]\n", e.TokenUsage.TotalTokens)
		}
	}
}
