package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"line-chat-relay/internal/domain"
	"line-chat-relay/internal/usecase"
)

type historyStore interface {
	ReadWindow(ctx context.Context, userID string, limit int) ([]domain.Message, error)
	EraseAll(ctx context.Context, userID string) error
}

type relayer interface {
	Relay(ctx context.Context, in usecase.RelayInput) (usecase.RelayOutput, error)
}

type backend struct {
	store historyStore
	relay relayer
}

type loader func(ctx context.Context, envFile string) (*backend, error)

func newRootCmd(load loader) *cobra.Command {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Operate the LINE chat relay",
		Long: `relayctl reads and erases stored conversations and sends messages
through the relay without going through LINE.

Examples:
  relayctl history --user U1234 --limit 20
  relayctl erase --user U1234
  relayctl chat --user U1234 "What's the weather in Tokyo?"`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringP("user", "u", "", "LINE user ID")
	_ = root.MarkPersistentFlagRequired("user")

	root.AddCommand(
		newHistoryCmd(load),
		newEraseCmd(load),
		newChatCmd(load),
	)
	return root
}

func resolve(cmd *cobra.Command, load loader) (*backend, string, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		return nil, "", errors.New("--user must not be empty")
	}
	b, err := load(cmd.Context(), envFile)
	if err != nil {
		return nil, "", err
	}
	return b, userID, nil
}

func newHistoryCmd(load loader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent stored turns, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, userID, err := resolve(cmd, load)
			if err != nil {
				return err
			}
			msgs, err := b.store.ReadWindow(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "(no history)")
				return nil
			}
			for _, m := range msgs {
				ts := time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%s %-9s %s\n", ts, m.Role, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 6, "number of turns to show")
	return cmd
}

func newEraseCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "erase",
		Short: "Delete every stored turn for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, userID, err := resolve(cmd, load)
			if err != nil {
				return err
			}
			if err := b.store.EraseAll(cmd.Context(), userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "erased history for %s\n", userID)
			return nil
		},
	}
}

func newChatCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "chat MESSAGE",
		Short: "Send one message through the relay and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, userID, err := resolve(cmd, load)
			if err != nil {
				return err
			}
			res, err := b.relay.Relay(cmd.Context(), usecase.RelayInput{
				UserID:    userID,
				Timestamp: time.Now().UnixMilli(),
				Content:   args[0],
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
			if res.PersistErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", res.PersistErr)
			}
			return nil
		},
	}
}
