package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tfreechat/tfreechat-go/internal/client"
)

var (
	showBranch string
	showFull   bool
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats",
	Long: `List your chats, most recently active first.

Examples:
  tfreechat chats`,
	RunE: runChats,
}

var showCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show a chat's active thread",
	Long: `Show the active thread of a chat, with branch menus at each fork.

Use --branch to view a specific branch instead of the default thread.

Examples:
  tfreechat show 0195c2...
  tfreechat show 0195c2... --branch 0195c9...`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and all its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.DeleteChat(context.Background(), args[0]); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		fmt.Println("Deleted.")
		return nil
	},
}

var sharePublic bool

var shareCmd = &cobra.Command{
	Use:   "share <chat-id>",
	Short: "Toggle public link sharing for a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.SetPublic(context.Background(), args[0], sharePublic); err != nil {
			return fmt.Errorf("set public: %w", err)
		}
		if sharePublic {
			fmt.Println("Chat is now public.")
		} else {
			fmt.Println("Chat is now private.")
		}
		return nil
	},
}

func init() {
	showCmd.Flags().StringVar(&showBranch, "branch", "", "branch id to view instead of the default thread")
	showCmd.Flags().BoolVar(&showFull, "full", false, "print full prompts and replies without truncation")

	shareCmd.Flags().BoolVar(&sharePublic, "public", true, "make the chat public (--public=false to revoke)")
}

func runChats(cmd *cobra.Command, args []string) error {
	chats, err := api.ListChats(context.Background())
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	if len(chats) == 0 {
		fmt.Println("No chats yet. Start one with: tfreechat send \"...\"")
		return nil
	}

	for _, c := range chats {
		branches := 0
		for _, refs := range c.Branches {
			for _, r := range refs {
				if r.ID != nil {
					branches++
				}
			}
		}
		line := fmt.Sprintf("%s  %s", c.ID, oneLine(c.Prompt, 60))
		if branches > 0 {
			line += hintStyle().Render(fmt.Sprintf("  (%d branches)", branches))
		}
		if c.Public {
			line += hintStyle().Render("  [public]")
		}
		fmt.Println(line)
		fmt.Println(hintStyle().Render("  updated " + c.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	view, err := api.GetChat(context.Background(), args[0], showBranch)
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}

	for _, m := range view.Thread {
		fmt.Println(promptStyle().Render("> " + clip(m.Prompt)))
		switch {
		case m.Reply == nil:
			fmt.Println(hintStyle().Render("  (pending)"))
		case m.Reply.Error != "":
			fmt.Println(errorStyle().Render("  " + m.Reply.Error))
		case m.Reply.Image != "":
			fmt.Println("  [image] " + m.Reply.Image)
		default:
			fmt.Println("  " + strings.ReplaceAll(clip(m.Reply.Text), "\n", "\n  "))
		}

		if menu, ok := view.Menus[m.ID]; ok {
			printMenu(m.ID, menu)
		}
		fmt.Println()
	}

	if view.Pending {
		fmt.Println(hintStyle().Render("A reply is still streaming; run 'tfreechat watch' to follow it."))
	}
	return nil
}

func printMenu(at string, menu []client.BranchOption) {
	fmt.Println(hintStyle().Render("  branches at " + at + ":"))
	for _, opt := range menu {
		marker := "   "
		if opt.Active {
			marker = " * "
		}
		id := "(original)"
		if opt.ID != nil {
			id = *opt.ID
		}
		fmt.Printf("%s%s  %s\n", marker, id, oneLine(opt.Prompt, 50))
	}
}

func clip(s string) string {
	if showFull || len(s) <= 2000 {
		return s
	}
	return s[:2000] + "…"
}

func oneLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max-1]) + "…"
	}
	return s
}

func promptStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true)
}

func hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
}

func errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
}
