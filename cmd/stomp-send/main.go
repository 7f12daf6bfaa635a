package main

import (
	"context"
	"log"
	"log/slog"
	"os"
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
	body := "hello"
	if len(os.Args) > 3 {
		body = os.Args[3]
	}

	cfg := stomp.DefaultConfig()
	cfg.URI = serverAddr
	cfg.Login = os.Getenv("STOMP_LOGIN")
	cfg.Passcode = os.Getenv("STOMP_PASSCODE")
	stomp.LoadConfigFromEnv(cfg)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := stomp.NewClient(cfg, nil, logger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	log.Printf("connecting to %s...", serverAddr)
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	log.Println("connected")

	if err := client.Send(stomp.SendOptions{
		Destination: destination,
		Body:        []byte(body),
		Receipt:     "send-1",
	}); err != nil {
		log.Fatalf("send failed: %v", err)
	}
	log.Printf("sent %q to %s", body, destination)

	if err := client.Disconnect(5*time.Second, "disconnect-1"); err != nil {
		log.Fatalf("disconnect failed: %v", err)
	}
	log.Println("disconnected")
}
