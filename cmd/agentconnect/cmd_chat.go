package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ykute07/agentconnect/pkg/store"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent directly, without a hub",
		RunE:  runChat,
	}
	cmd.Flags().StringP("message", "m", "", "Send one message and exit")
	cmd.Flags().StringP("session", "s", "cli", "Conversation ID")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFrom(cmd)
	if err != nil {
		return err
	}
	session, _ := cmd.Flags().GetString("session")

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	loop := buildLoop(cfg, st)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if oneShot, _ := cmd.Flags().GetString("message"); oneShot != "" {
		reply, err := loop.Chat(ctx, oneShot, session, nil)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}

	fmt.Println("Interactive chat. Type /quit to exit, /stats for conversation stats.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/stats":
			for id, s := range loop.Control().Stats() {
				fmt.Printf("  %s: %d turns, %d tokens\n", id, s.TurnCount, s.TotalTokens)
			}
			continue
		}

		reply, err := loop.Chat(ctx, line, session, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
}
