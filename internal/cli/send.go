package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tfreechat/tfreechat-go/internal/client"
)

var (
	sendChat      string
	sendPrevious  string
	sendNewBranch bool
	sendProvider  string
	sendModel     string
	sendWebSearch bool
	sendImage     bool
	sendPublic    bool
	sendPlain     bool
)

var sendCmd = &cobra.Command{
	Use:   "send <prompt>",
	Short: "Send a prompt and stream the reply",
	Long: `Send a prompt to a model and stream the reply.

Without --chat a new chat is created. With --chat the prompt continues the
chat's default thread; add --previous to anchor at a specific message and
--new-branch to fork an alternate continuation there.

Examples:
  tfreechat send "Why is the sky blue?"
  tfreechat send --chat 0195c2... "And at sunset?"
  tfreechat send --chat 0195c2... --previous 0195c7... --new-branch "Explain it to a five year old"
  tfreechat send --image --model dall-e-2 "a lighthouse in fog"`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendChat, "chat", "", "chat id to continue (default: new chat)")
	sendCmd.Flags().StringVar(&sendPrevious, "previous", "", "message id to anchor at")
	sendCmd.Flags().BoolVar(&sendNewBranch, "new-branch", false, "fork a new branch at the anchor")
	sendCmd.Flags().StringVar(&sendProvider, "provider", "openai", "model provider")
	sendCmd.Flags().StringVarP(&sendModel, "model", "m", "gpt-4o-mini", "model id")
	sendCmd.Flags().BoolVar(&sendWebSearch, "web-search", false, "ask for web search")
	sendCmd.Flags().BoolVar(&sendImage, "image", false, "generate an image instead of text")
	sendCmd.Flags().BoolVar(&sendPublic, "public", false, "make a newly created chat public")
	sendCmd.Flags().BoolVar(&sendPlain, "plain", false, "plain output without the interactive view")
}

func sendOptions() *client.SendOptions {
	opts := &client.SendOptions{
		ChatID:    sendChat,
		Provider:  sendProvider,
		Model:     sendModel,
		WebSearch: sendWebSearch,
		Public:    sendPublic,
	}
	if sendPrevious != "" {
		opts.Previous = &client.Previous{ID: sendPrevious, NewBranch: sendNewBranch}
	}
	return opts
}

func runSend(cmd *cobra.Command, args []string) error {
	prompt := args[0]
	ctx := context.Background()

	if sendNewBranch && sendPrevious == "" {
		return fmt.Errorf("--new-branch requires --previous")
	}

	if sendImage {
		msg, err := api.SendImage(ctx, prompt, sendOptions())
		if err != nil {
			return fmt.Errorf("generate image: %w", err)
		}
		fmt.Println("chat", msg.ChatID)
		if msg.Reply != nil && msg.Reply.Image != "" {
			fmt.Println("image", msg.Reply.Image)
		}
		return nil
	}

	if sendPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return sendPlainStream(ctx, prompt)
	}

	return renderStream(func(send func(client.Event)) error {
		return api.SendText(ctx, prompt, sendOptions(), func(ev client.Event) error {
			send(ev)
			return nil
		})
	})
}

// sendPlainStream writes deltas straight to stdout, reasoning to stderr.
func sendPlainStream(ctx context.Context, prompt string) error {
	err := api.SendText(ctx, prompt, sendOptions(), func(ev client.Event) error {
		switch ev.Type {
		case client.EventHead:
			fmt.Fprintln(os.Stderr, dim("chat "+ev.ChatID+" message "+ev.MessageID))
		case client.EventReasoning:
			fmt.Fprint(os.Stderr, dim(ev.Reasoning))
		case client.EventText:
			fmt.Print(ev.Text)
		case client.EventDone:
			fmt.Println()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	return nil
}
