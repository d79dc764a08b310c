package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/call"
	"github.com/parley-chat/parley/internal/client"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	roomName := cfg.Room
	if len(os.Args) > 1 {
		roomName = os.Args[1]
	}

	c := client.New(cfg.Server, client.Options{
		ICEServers:   cfg.ICEServers,
		PingInterval: cfg.PingPeriod,
		OnChat: func(msg domain.ChatMessage) {
			name := "system"
			if msg.Author != nil {
				name = msg.Author.Name
			}
			fmt.Printf("[%s] %s\n", name, msg.Text)
		},
		OnRoster: func(users []domain.User) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Name)
			}
			fmt.Printf("* in room: %s\n", strings.Join(names, ", "))
		},
		OnIncoming: func(offer call.PendingOffer) {
			fmt.Printf("* incoming call from %s: /accept or /decline\n", offer.FromName)
		},
		OnPhaseChange: func(p call.Phase) {
			fmt.Printf("* call: %s\n", p)
		},
	})

	if err := c.Join(ctx, roomName); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	defer c.Leave()

	id, _ := c.Room.Identity()
	fmt.Printf("* connected to %q as %s\n", id.Room, id.Username)
	fmt.Println("* /users /call <name> /accept /decline /end /quit, anything else is chat")

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if err := runCommand(ctx, c, line); err != nil {
				fmt.Println("!", err)
			}
			if line == "/quit" {
				cancel()
				return
			}
		}
		cancel()
	}()

	select {
	case <-ctx.Done():
	case <-c.Done():
		fmt.Println("* connection closed")
	}
}

func runCommand(ctx context.Context, c *client.Client, line string) error {
	switch {
	case line == "/quit":
		return nil
	case line == "/users":
		return c.RequestUsers()
	case line == "/accept":
		return c.Calls.AcceptIncoming(ctx)
	case line == "/decline":
		return c.Calls.DeclineIncoming()
	case line == "/end":
		return c.Calls.EndCall()
	case strings.HasPrefix(line, "/call "):
		return c.CallUser(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/call ")))
	case strings.HasPrefix(line, "/"):
		return fmt.Errorf("unknown command %q", line)
	default:
		return c.SendChat(line)
	}
}
