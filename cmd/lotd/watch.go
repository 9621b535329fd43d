package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alfredjeanlab/lotgate/internal/client"
	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [topic...]",
	Short: "Stream lot events",
	Long: `Stream lot events as they happen.

Events are read from NATS when --nats or LOT_NATS_URL is set, otherwise from
the status API's event stream. Topics accept a trailing wildcard, as in
"lot.gate.*"; with no topics every lot event is shown.`,
	GroupID: "views",
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("LOT_NATS_URL")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		if natsURL != "" {
			return watchNATS(ctx, out, natsURL, args)
		}
		return watchSSE(ctx, out, args)
	},
}

// watchNATS subscribes to each topic on the bus and prints events until ctx
// is done.
func watchNATS(ctx context.Context, out io.Writer, natsURL string, topics []string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	if len(topics) == 0 {
		topics = []string{"lot.>"}
	}
	merged := make(chan events.Message)
	for _, topic := range topics {
		subject := natsSubject(topic)
		ch, cancel, err := sub.Subscribe(subject)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		defer cancel()
		go func() {
			for m := range ch {
				select {
				case merged <- m:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-merged:
			printEvent(out, m.Topic, m.Data)
		}
	}
}

// watchSSE prints events from the status API's stream.
func watchSSE(ctx context.Context, out io.Writer, topics []string) error {
	err := statusClient.StreamEvents(ctx, topics, func(e client.Event) error {
		printEvent(out, e.Topic, e.Data)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// natsSubject maps a stream topic pattern to a NATS subject: a trailing
// "*" matches every deeper level.
func natsSubject(topic string) string {
	if strings.HasSuffix(topic, ".*") {
		return strings.TrimSuffix(topic, "*") + ">"
	}
	return topic
}

func init() {
	watchCmd.Flags().String("nats", "", "NATS URL to read events from (default LOT_NATS_URL)")
}
