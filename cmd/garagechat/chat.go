package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/garagechat/internal/config"
	"github.com/ent0n29/garagechat/pkg/chatclient"
)

var (
	chatUser string
	chatRole string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the relay from the terminal",
	Long: `Opens a realtime channel to the relay and reads messages from stdin.
Commands: /history, /summary, /feedback <1-5>, /escalate <reason>, /quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		level := "warn"
		if debug {
			level = "debug"
		}
		ctx, logger := setupLogger(ctx, level, "console")

		client := chatclient.New(chatclient.Config{
			APIURL: cfg.APIURL,
			WSURL:  cfg.WSURL,
			APIKey: cfg.APIKey,
		}, chatclient.WithLogger(logger))

		return runChat(ctx, client, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "guest", "user id to join as")
	chatCmd.Flags().StringVarP(&chatRole, "role", "r", "vehicle-owner", "user role (vehicle-owner, garage-partner, insurance, admin)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(ctx context.Context, client *chatclient.Client, in io.Reader, out io.Writer) error {
	convID, err := client.StartConversation(ctx, chatUser, chatRole)
	if err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	fmt.Fprintf(out, "conversation %s\n", convID)

	err = client.Connect(ctx, chatUser,
		func(ev chatclient.Event) {
			if ev.Type == "error" {
				fmt.Fprintf(out, "! %s\n", ev.Message)
				return
			}
			fmt.Fprintf(out, "bot (%s): %s\n", chatclient.HumanizeTimestamp(ev.Timestamp, time.Now()), ev.Content)
		},
		func(connected bool) {
			if connected {
				fmt.Fprintln(out, "* realtime connected")
			} else {
				fmt.Fprintln(out, "* realtime disconnected")
			}
		},
	)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	lines := scanLines(ctx, in)

	for {
		select {
		case <-ctx.Done():
			client.EndConversation(context.Background(), convID)
			return nil
		case line, ok := <-lines:
			if !ok {
				client.EndConversation(ctx, convID)
				return nil
			}
			if quit := handleLine(ctx, client, out, convID, line); quit {
				client.EndConversation(ctx, convID)
				return nil
			}
		}
	}
}

// scanLines feeds lines from in until EOF or ctx ends, then closes the channel.
func scanLines(ctx context.Context, in io.Reader) <-chan string {
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
	return lines
}

func handleLine(ctx context.Context, client *chatclient.Client, out io.Writer, convID, line string) bool {
	text := chatclient.Sanitize(line)
	if text == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/history":
		for _, m := range client.History(ctx, convID, 0) {
			fmt.Fprintf(out, "%s (%s): %s\n", m.Role, chatclient.HumanizeTimestamp(m.Timestamp, time.Now()), m.Content)
		}
		return false
	case "/summary":
		fmt.Fprintln(out, chatclient.Summarize(client.History(ctx, convID, 0), 3))
		return false
	case "/feedback":
		var rating int
		if _, err := fmt.Sscanf(arg, "%d", &rating); err != nil {
			fmt.Fprintln(out, "usage: /feedback <1-5>")
			return false
		}
		if client.SubmitFeedback(ctx, chatclient.Feedback{ConversationID: convID, UserID: chatUser, Rating: rating}) {
			fmt.Fprintln(out, "* thanks for the feedback")
		} else {
			fmt.Fprintln(out, "! feedback not recorded")
		}
		return false
	case "/escalate":
		ticket, err := client.Escalate(ctx, chatclient.Escalation{ConversationID: convID, UserID: chatUser, Reason: arg, Urgency: "high"})
		if err != nil {
			fmt.Fprintf(out, "! escalation failed: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "* escalation %s is %s\n", ticket.EscalationID, ticket.Status)
		return false
	}

	if client.SendRealtime(text, chatRole, convID) {
		return false
	}
	reply, err := client.Send(ctx, chatclient.SendRequest{
		Content:        text,
		UserRole:       chatRole,
		UserID:         chatUser,
		ConversationID: convID,
	})
	if err != nil {
		fmt.Fprintf(out, "! send failed: %v\n", err)
		return false
	}
	// Connected users also get the reply pushed; only print it when offline.
	if !client.Connected() {
		fmt.Fprintf(out, "bot: %s\n", reply.Message)
	}
	return false
}
