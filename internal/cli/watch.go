package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tfreechat/tfreechat-go/internal/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Follow a chat's updates live",
	Long: `Attach to a chat and print updates as they happen: new messages,
streamed deltas and finalized replies. Useful for following a generation
started elsewhere.

Examples:
  tfreechat watch 0195c2...`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	chatID := args[0]

	sessions := client.NewSessions(api)
	sub, err := sessions.Subscribe(context.Background(), chatID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	view := client.NewThreadView(sub.Snapshot)
	for _, m := range view.Thread() {
		fmt.Println(promptStyle().Render("> " + oneLine(m.Prompt, 70)))
		if m.Reply != nil && m.Reply.Text != "" {
			fmt.Println("  " + oneLine(m.Reply.Text, 70))
		}
	}
	fmt.Println(hintStyle().Render("watching… (ctrl+c to stop)"))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				fmt.Println(hintStyle().Render("subscription closed"))
				return nil
			}
			view.Apply(ev)
			switch ev.Type {
			case client.EventHead:
				fmt.Println(promptStyle().Render("new message " + ev.MessageID))
			case client.EventText:
				fmt.Print(ev.Text)
			case client.EventReasoning:
				fmt.Print(dim(ev.Reasoning))
			case client.EventReply:
				fmt.Println()
				if ev.Reply != nil && ev.Reply.Error != "" {
					fmt.Println(errorStyle().Render(ev.Reply.Error))
				} else {
					fmt.Println(hintStyle().Render("reply finalized"))
				}
			case client.EventChatDeleted:
				fmt.Println(errorStyle().Render("chat deleted"))
				return nil
			}
		}
	}
}
