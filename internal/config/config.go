// Package config loads process configuration. Values come from CLI flags
// (peer only), then environment variables, then defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort      = "3001"
	DefaultLogLevel  = "info"
	DefaultRedisAddr = "localhost:6379"
	DefaultRoomTTL   = 24 * time.Hour
	DefaultSignalURL = "ws://localhost:3001/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"

	DefaultGatherTimeout  = 5 * time.Second
	DefaultMaxReconnects  = 3
	DefaultCandidateLimit = 256

	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

type Server struct {
	Port           string
	LogLevel       string
	AllowedOrigins []string
	StaticDir      string
	Registry       string
	Redis          Redis
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	RoomTTL  time.Duration
}

// Addr is the listen address for the HTTP server.
func (s *Server) Addr() string {
	return ":" + s.Port
}

func LoadServer() (*Server, error) {
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	ttl, err := time.ParseDuration(getEnv("ROOM_TTL", DefaultRoomTTL.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid ROOM_TTL: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid ROOM_TTL: must be positive")
	}

	registry := strings.ToLower(getEnv("REGISTRY", RegistryMemory))
	if registry != RegistryMemory && registry != RegistryRedis {
		return nil, fmt.Errorf("invalid REGISTRY %q: want %s or %s", registry, RegistryMemory, RegistryRedis)
	}

	return &Server{
		Port:           getEnv("PORT", DefaultPort),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		StaticDir:      os.Getenv("STATIC_DIR"),
		Registry:       registry,
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", DefaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
			RoomTTL:  ttl,
		},
	}, nil
}

type Peer struct {
	SignalURL string
	LogLevel  string
	Nickname  string
	Color     string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	GatherTimeout  time.Duration
	MaxReconnects  int
	CandidateLimit int
}

// Options carries CLI flag values; empty fields fall through to the
// environment.
type Options struct {
	SignalURL  string
	LogLevel   string
	Nickname   string
	Color      string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	GatherTimeout  time.Duration
	MaxReconnects  int
	CandidateLimit int
}

func LoadPeer(opts Options) (*Peer, error) {
	gather, err := pickDuration(opts.GatherTimeout, "GATHER_TIMEOUT", DefaultGatherTimeout)
	if err != nil {
		return nil, err
	}
	reconnects, err := pickInt(opts.MaxReconnects, "MAX_RECONNECTS", DefaultMaxReconnects)
	if err != nil {
		return nil, err
	}
	limit, err := pickInt(opts.CandidateLimit, "CANDIDATE_LIMIT", DefaultCandidateLimit)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		SignalURL:  pick(opts.SignalURL, "SIGNAL_URL", DefaultSignalURL),
		LogLevel:   pick(opts.LogLevel, "LOG_LEVEL", DefaultLogLevel),
		Nickname:   pick(opts.Nickname, "NICKNAME", ""),
		Color:      pick(opts.Color, "COLOR", ""),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),

		GatherTimeout:  gather,
		MaxReconnects:  reconnects,
		CandidateLimit: limit,
	}
	if !strings.HasPrefix(p.SignalURL, "ws://") && !strings.HasPrefix(p.SignalURL, "wss://") {
		return nil, fmt.Errorf("invalid signal URL %q: want ws:// or wss://", p.SignalURL)
	}
	return p, nil
}

// STUNServers returns the configured STUN URLs.
func (p *Peer) STUNServers() []string {
	return splitList(p.STUNServer)
}

// TURNServers returns the configured TURN URLs, if any.
func (p *Peer) TURNServers() []string {
	return splitList(p.TURNServer)
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	return getEnv(env, def)
}

func pickDuration(flag time.Duration, env string, def time.Duration) (time.Duration, error) {
	if flag < 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	if flag > 0 {
		return flag, nil
	}
	d, err := time.ParseDuration(getEnv(env, def.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	return d, nil
}

func pickInt(flag int, env string, def int) (int, error) {
	if flag < 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	if flag > 0 {
		return flag, nil
	}
	n, err := strconv.Atoi(getEnv(env, strconv.Itoa(def)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	return n, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
