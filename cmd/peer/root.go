package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Wyydra/tandem/internal/chat"
	"github.com/Wyydra/tandem/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagSignalURL string
	flagLogLevel  string
	flagNickname  string
	flagColor     string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string

	flagGatherTimeout  time.Duration
	flagMaxReconnects  int
	flagCandidateLimit int
)

var rootCmd = &cobra.Command{
	Use:   "tandem-peer",
	Short: "Two-party text chat over a direct peer connection",
	Long: `tandem-peer opens a direct data channel to one other peer, using a relay
only to exchange connection details.

Examples:
  tandem-peer create --nickname alice
  tandem-peer join <room> --nickname bob --color #00ff88`,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagSignalURL, "signal-url", "", "relay websocket URL (env SIGNAL_URL)")
	flags.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	flags.StringVar(&flagNickname, "nickname", "", "display name shown to the other peer")
	flags.StringVar(&flagColor, "color", "", "personal color as #rrggbb")
	flags.StringVar(&flagSTUN, "stun", "", "comma separated STUN URLs (env STUN_SERVER)")
	flags.StringVar(&flagTURN, "turn", "", "comma separated TURN URLs (env TURN_SERVER)")
	flags.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	flags.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	flags.DurationVar(&flagGatherTimeout, "gather-timeout", 0, "how long an offer waits for candidate gathering (env GATHER_TIMEOUT)")
	flags.IntVar(&flagMaxReconnects, "max-reconnects", 0, "consecutive failed reconnects allowed (env MAX_RECONNECTS)")
	flags.IntVar(&flagCandidateLimit, "candidate-limit", 0, "candidates buffered before a remote description (env CANDIDATE_LIMIT)")

	rootCmd.AddCommand(createCmd, joinCmd)
}

func loadConfig() (*config.Peer, error) {
	cfg, err := config.LoadPeer(config.Options{
		SignalURL:  flagSignalURL,
		LogLevel:   flagLogLevel,
		Nickname:   flagNickname,
		Color:      flagColor,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,

		GatherTimeout:  flagGatherTimeout,
		MaxReconnects:  flagMaxReconnects,
		CandidateLimit: flagCandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Color != "" && !chat.ValidColor(cfg.Color) {
		return nil, fmt.Errorf("invalid color %q: want #rrggbb", cfg.Color)
	}
	return cfg, nil
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, chat.ErrorStyle.Render("✗ "+err.Error()))
		os.Exit(1)
	}
}
