package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stompkit/stomp"
)

func main() {
	serverAddr := "tcp://localhost:61613"
	if len(os.Args) > 1 {
		serverAddr = os.Args[1]
	}
	destination := "/queue/test"
	if len(os.Args) > 2 {
		destination = os.Args[2]
	}

	cfg := stomp.DefaultConfig()
	cfg.URI = serverAddr
	cfg.Login = os.Getenv("STOMP_LOGIN")
	cfg.Passcode = os.Getenv("STOMP_PASSCODE")
	stomp.LoadConfigFromEnv(cfg)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := stomp.NewClient(cfg, nil, logger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	if err := client.Connect(ctx); err != nil {
		cancel()
		log.Fatalf("connect failed: %v", err)
	}
	cancel()
	log.Println("connected")

	token, err := client.Subscribe(stomp.SubscribeOpts{
		SubscribeOptions: stomp.SubscribeOptions{
			Destination: destination,
			Ack:         stomp.AckClient,
		},
		AutoAck: true,
		Handler: func(c *stomp.Client, message *stomp.Frame) error {
			log.Printf("received: %s", message.Body)
			return nil
		},
	})
	if err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}
	log.Printf("subscribed to %s (token %s)", destination, token)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("shutting down")
	case <-client.Done():
		log.Printf("disconnected: %v", client.Err())
		return
	}

	if err := client.Disconnect(5*time.Second, "disconnect-1"); err != nil {
		log.Fatalf("disconnect failed: %v", err)
	}
}
