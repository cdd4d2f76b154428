package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mensageria_assinada/internal/client"
	"mensageria_assinada/internal/identity"
)

const dialTimeout = 10 * time.Second

func dial(ctx context.Context) (*client.Client, error) {
	key, err := loadIdentity()
	if err != nil {
		return nil, err
	}
	wsURL, err := client.WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return client.Dial(ctx, wsURL, key)
}

// send <recipient> <content>: sign and send one message.
func sendCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <recipient-public-key> <content>",
		Short: "Sign and send a message to an online user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient, err := identity.ParsePublicKey(args[0])
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}

			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Send(recipient, args[1]); err != nil {
				return err
			}
			if err := awaitRejection(cmd.Context(), c, wait); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "how long to wait for a rejection from the server")
	return cmd
}

// awaitRejection gives the server a moment to refuse the message; silence means it was forwarded.
func awaitRejection(ctx context.Context, c *client.Client, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-c.Events():
			if !ok {
				return errors.New("connection closed before the message was acknowledged")
			}
			switch e := ev.(type) {
			case client.Rejection:
				return fmt.Errorf("rejected: %s: %s", e.Reason, e.Details)
			case client.RecipientOffline:
				return fmt.Errorf("recipient %s went offline", e.Recipient)
			}
		}
	}
}

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Stay online and print verified incoming messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "online as %s, %d user(s) in lobby\n", c.PublicKey().Fingerprint(), len(c.Lobby()))
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev, ok := <-c.Events():
					if !ok {
						return errors.New("connection closed by server")
					}
					printEvent(out, ev)
				}
			}
		},
	}
}

func printEvent(out io.Writer, ev client.Event) {
	switch e := ev.(type) {
	case client.Message:
		fmt.Fprintf(out, "[%s] %s: %s\n", e.SentAt.Local().Format(time.TimeOnly), e.From.Fingerprint(), e.Content)
	case client.LobbyChange:
		for _, pk := range e.Left {
			fmt.Fprintf(out, "- %s left\n", pk.Fingerprint())
		}
		for _, pk := range e.Joined {
			fmt.Fprintf(out, "+ %s joined\n", pk.Fingerprint())
		}
	case client.Rejection:
		fmt.Fprintf(out, "! %s: %s\n", e.Reason, e.Details)
	case client.RecipientOffline:
		fmt.Fprintf(out, "! %s is offline\n", e.Recipient)
	}
}
