package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/tandem/internal/adapter/driven/media/pion"
	sigws "github.com/Wyydra/tandem/internal/adapter/driven/signaling/ws"
	"github.com/Wyydra/tandem/internal/chat"
	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/session"
	"github.com/Wyydra/tandem/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runPeer connects to the relay and runs an interactive chat. An empty
// roomID creates a new room.
func runPeer(cmd *cobra.Command, roomID domain.RoomID) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := sigws.Dial(ctx, cfg.SignalURL)
	if err != nil {
		return err
	}
	defer client.Close()

	factory := pion.NewFactory(pion.ICEConfig{
		STUNServers: cfg.STUNServers(),
		TURNServers: cfg.TURNServers(),
		TURNUser:    cfg.TURNUser,
		TURNPass:    cfg.TURNPass,
	})
	s := session.New(client, factory,
		session.WithLogger(logger.With().Str("component", "session").Logger()),
		session.WithGatherTimeout(cfg.GatherTimeout),
		session.WithMaxReconnectAttempts(cfg.MaxReconnects),
		session.WithCandidateLimit(cfg.CandidateLimit),
	)

	out := cmd.OutOrStdout()
	c := chat.New(s, client.ID(), out)
	s.OnMessage(c.Message)
	s.OnConnectionState(c.State)
	s.OnUsers(c.Users)
	s.OnError(c.Error)

	go s.Run(ctx)
	go func() {
		err := client.Listen(ctx, s)
		if ctx.Err() == nil {
			if !errors.Is(err, sigws.ErrClosed) {
				log.Error().Err(err).Msg("Lost connection to relay")
			}
			stop()
		}
	}()

	if cfg.Nickname != "" || cfg.Color != "" {
		if err := c.SetIdentity(ctx, cfg.Nickname, cfg.Color); err != nil {
			return err
		}
	}

	if roomID == "" {
		created, err := s.CreateRoom(ctx)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		fmt.Fprintln(out, chat.TitleStyle.Render("room "+created.String()))
		fmt.Fprintln(out, chat.MutedStyle.Render("share it: tandem-peer join "+created.String()))
	} else {
		if err := s.JoinRoom(ctx, roomID); err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		fmt.Fprintln(out, chat.TitleStyle.Render("joined "+roomID.String()))
	}

	if err := c.Run(ctx, cmd.InOrStdin()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
