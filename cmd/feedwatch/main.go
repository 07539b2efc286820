// cmd/feedwatch: prints the feed of a running feedengine.
//
// Usage:
//
//	feedwatch [-url ws://localhost:8765/ws] [-raw]
//
// FEED_URL overrides the default URL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"feed-engine/internal/feedclient"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	def := os.Getenv("FEED_URL")
	if def == "" {
		def = "ws://localhost:8765/ws"
	}
	url := flag.String("url", def, "feed websocket URL")
	raw := flag.Bool("raw", false, "print frames as received instead of a summary")
	flag.Parse()

	client, err := feedclient.New(feedclient.Config{URL: *url})
	if err != nil {
		log.Fatalf("[feedwatch] %v", err)
	}
	client.OnReconnect = func() { log.Printf("[feedwatch] connection lost") }

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	msgs := make(chan feedclient.Message, 256)
	go func() {
		client.Start(ctx, msgs)
		close(msgs)
	}()

	state := client.State()
	for m := range msgs {
		switch {
		case m.Type == feedclient.TypePong:
		case *raw:
			fmt.Printf("%s %s\n", m.Type, m.Data)
		case m.Type == "snapshot":
			prices := state.Prices()
			ids := make([]string, 0, len(prices))
			for id := range prices {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("%-20s %12.4f  %s\n", id, prices[id].Price, prices[id].Timestamp)
			}
		default:
			fmt.Printf("%-18s %s\n", m.Type, m.Data)
		}
	}
}
