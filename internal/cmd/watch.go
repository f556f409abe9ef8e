package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/thaveesi/blackRabbit/internal/protocol"
)

// feedClient is a live-feed WebSocket client.
type feedClient struct {
	conn *websocket.Conn

	// events that arrived before the subscription was acknowledged
	pending []protocol.EventsMessage
}

// dialFeed connects to the dashboard live feed.
func dialFeed(ctx context.Context, addr string) (*feedClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &feedClient{conn: conn}, nil
}

// Close closes the client connection.
func (c *feedClient) Close() error {
	return c.conn.Close()
}

// Subscribe sends a subscribe message and waits for the acknowledgement.
func (c *feedClient) Subscribe(contractID string) error {
	msg := protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{
			Type:       protocol.TypeSubscribe,
			Ts:         time.Now().UnixMilli(),
			ContractID: contractID,
		},
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read subscribed: %w", err)
		}

		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			return fmt.Errorf("unmarshal subscribed: %w", err)
		}
		switch base.Type {
		case protocol.TypeSubscribed:
			return nil
		case protocol.TypeEvents:
			// A tracker update can overtake the acknowledgement.
			var events protocol.EventsMessage
			if err := json.Unmarshal(data, &events); err != nil {
				return fmt.Errorf("unmarshal events: %w", err)
			}
			c.pending = append(c.pending, events)
		case protocol.TypeError:
			return fmt.Errorf("subscribe failed: %s", errorFrameText(data))
		default:
			return fmt.Errorf("expected subscribed, got: %s", base.Type)
		}
	}
}

// ReadEvents passes every events message to fn until fn returns false or
// the connection closes.
func (c *feedClient) ReadEvents(fn func(protocol.EventsMessage) bool) error {
	pending := c.pending
	c.pending = nil
	for _, msg := range pending {
		if !fn(msg) {
			return nil
		}
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		switch base.Type {
		case protocol.TypeEvents:
			var msg protocol.EventsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("unmarshal events: %w", err)
			}
			if !fn(msg) {
				return nil
			}
		case protocol.TypeError:
			return fmt.Errorf("live feed error: %s", errorFrameText(data))
		}
	}
}

// errorFrameText formats an error frame as "code - message", falling back
// to the raw frame when it does not decode.
func errorFrameText(data []byte) string {
	var errMsg protocol.ErrorMessage
	if err := json.Unmarshal(data, &errMsg); err != nil || (errMsg.Code == "" && errMsg.Message == "") {
		return string(data)
	}
	return errMsg.Code + " - " + errMsg.Message
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch <contract_id>",
		Short: "Follow a contract's events over the dashboard live feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			contractID := args[0]
			client, err := dialFeed(ctx, opts.wsURL)
			if err != nil {
				return err
			}
			defer client.Close()

			// Unblock reads on interrupt.
			go func() {
				<-ctx.Done()
				client.Close()
			}()

			if err := client.Subscribe(contractID); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s...\n", contractID)

			seen := 0
			err = client.ReadEvents(func(msg protocol.EventsMessage) bool {
				printUpdate(out, msg)
				seen++
				return count <= 0 || seen < count
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many updates (0 watches until interrupted)")
	return cmd
}

func printUpdate(out io.Writer, msg protocol.EventsMessage) {
	at := time.UnixMilli(msg.Ts).Format("15:04:05")
	printEvents(out, fmt.Sprintf("[%s] %s: %d events", at, msg.ContractID, len(msg.Events)), msg.Events)
}
