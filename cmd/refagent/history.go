package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"refagent/internal/config"
	"refagent/internal/domain"
	"refagent/internal/transcript"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errNoTranscripts = errors.New("transcripts are disabled (set transcripts.enabled to true)")

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTranscripts()
			if err != nil {
				return err
			}
			defer store.Close()

			convs, err := store.ListConversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Println("No conversations recorded yet.")
				return nil
			}
			for _, c := range convs {
				status := color.GreenString("answered")
				switch {
				case c.Error != "":
					status = color.RedString("failed")
				case !c.Converged:
					status = color.YellowString("unfinished")
				}
				fmt.Printf("%s  %s  %-10s  %d step(s), %d tool call(s)\n    %s\n",
					c.UpdatedAt.Local().Format("2006-01-02 15:04"), c.ID, status,
					c.Iterations, c.ToolCalls, truncateText(c.Question, 100))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of conversations to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Print the messages and tool calls of one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTranscripts()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			conv, err := store.Conversation(ctx, args[0])
			if err != nil {
				return err
			}
			if conv == nil {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			msgs, err := store.Messages(ctx, conv.ID)
			if err != nil {
				return err
			}
			events, err := store.ToolEvents(ctx, conv.ID)
			if err != nil {
				return err
			}

			bold := color.New(color.Bold).SprintFunc()
			for _, m := range msgs {
				switch m.Role {
				case domain.RoleSystem:
					continue
				case domain.RoleAssistant:
					for _, tc := range m.ToolCalls {
						fmt.Printf("%s %s(%s)\n", bold("call"), tc.Name, formatArgs(tc.Arguments))
					}
					if m.Content != "" {
						fmt.Printf("%s %s\n", bold("assistant"), m.Content)
					}
				case domain.RoleTool:
					fmt.Printf("%s %s: %s\n", bold("result"), m.ToolName, truncateText(m.Content, 300))
				default:
					fmt.Printf("%s %s\n", bold(m.Role), m.Content)
				}
			}

			if len(events) > 0 {
				fmt.Println()
				for _, e := range events {
					mark := color.GreenString("ok")
					if !e.OK {
						mark = color.RedString(e.ErrorKind)
					}
					fmt.Printf("  %-30s %-18s %s\n", e.Tool, mark, e.Duration)
				}
			}
			if conv.Error != "" {
				fmt.Println(color.RedString("\nerror: %s", conv.Error))
			}
			return nil
		},
	})
	return cmd
}

func openTranscripts() (*transcript.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if !cfg.Transcripts.Enabled {
		return nil, errNoTranscripts
	}
	return transcript.Open(cfg.Transcripts.DBPath, logger)
}

func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

func truncateText(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
