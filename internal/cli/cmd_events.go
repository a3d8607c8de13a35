package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type eventView struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Time       time.Time       `json:"time"`
}

type eventLogView struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow or query engine events",
	}
	cmd.AddCommand(newEventsTailCmd())
	cmd.AddCommand(newEventsLogCmd())
	return cmd
}

func newEventsTailCmd() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live events over the websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			u := c.wsURL("/v1/events?pattern=" + url.QueryEscape(pattern))
			conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
			if err != nil {
				return fmt.Errorf("connect event stream: %w", err)
			}
			if resp != nil {
				defer func() { _ = resp.Body.Close() }()
			}
			defer func() { _ = conn.Close() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				_ = conn.Close()
			}()

			for {
				var ev eventView
				if err := conn.ReadJSON(&ev); err != nil {
					return nil
				}
				if jsonOut {
					_ = printJSON(ev)
					continue
				}
				fmt.Printf("%s  %-32s %s\n",
					ev.Time.Format("15:04:05.000"), ev.Type, ev.EntityID)
			}
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "**", `topic pattern, e.g. "task.*" or "guardian.**"`)
	return cmd
}

func newEventsLogCmd() *cobra.Command {
	var (
		entityID  string
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query the durable audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if entityID != "" {
				q.Set("entity_id", entityID)
			}
			if eventType != "" {
				q.Set("type", eventType)
			}
			q.Set("limit", fmt.Sprint(limit))

			var entries []eventLogView
			if err := newClient().get("/v1/events/log?"+q.Encode(), &entries); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Printf("%s  %-32s %s  %s\n",
					e.CreatedAt.Format(time.RFC3339), e.EventType, e.EntityID, e.Payload)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "filter by entity id")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 100, "max entries")
	return cmd
}
