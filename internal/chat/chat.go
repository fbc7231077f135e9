// Package chat is the line-oriented terminal front end of a peer session.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/Wyydra/tandem/internal/core/domain"
)

// ErrQuit is returned by Handle when the user asked to leave.
var ErrQuit = errors.New("quit")

// Session is the part of the peer session the chat drives.
type Session interface {
	SendMessage(text string) bool
	Reconnect(ctx context.Context) error
	UpdateUserInfo(ctx context.Context, nickname, color string) error
	Users() domain.Users
}

type Chat struct {
	session Session
	self    domain.ParticipantID

	mu    sync.Mutex
	out   io.Writer
	nick  string
	color string
	users domain.Users
}

func New(session Session, self domain.ParticipantID, out io.Writer) *Chat {
	return &Chat{
		session: session,
		self:    self,
		out:     out,
		users:   make(domain.Users),
	}
}

// Run reads lines from in until EOF, /quit or ctx is cancelled.
func (c *Chat) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Handle(ctx, line); errors.Is(err, ErrQuit) {
				return nil
			}
		}
	}
}

// Handle processes one input line.
func (c *Chat) Handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		c.send(line)
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return ErrQuit
	case "/nick":
		if arg == "" {
			c.notice("usage: /nick <name>")
			return nil
		}
		return c.SetIdentity(ctx, arg, c.currentColor())
	case "/color":
		if !ValidColor(arg) {
			c.notice("usage: /color <#rrggbb>")
			return nil
		}
		return c.SetIdentity(ctx, c.currentNick(), arg)
	case "/reconnect":
		if err := c.session.Reconnect(ctx); err != nil {
			c.failure(fmt.Sprintf("reconnect failed: %v", err))
			return err
		}
		c.status("reconnecting...")
	case "/users":
		c.printUsers(c.session.Users())
	default:
		c.notice(fmt.Sprintf("unknown command %s", cmd))
	}
	return nil
}

// SetIdentity publishes nickname and color.
func (c *Chat) SetIdentity(ctx context.Context, nick, color string) error {
	if err := c.session.UpdateUserInfo(ctx, nick, color); err != nil {
		c.failure(fmt.Sprintf("could not update user info: %v", err))
		return err
	}
	c.mu.Lock()
	c.nick, c.color = nick, color
	c.mu.Unlock()
	return nil
}

func (c *Chat) send(text string) {
	if !c.session.SendMessage(text) {
		c.notice("message not delivered: not connected")
		return
	}
	c.mu.Lock()
	nick, color := c.nick, c.color
	c.mu.Unlock()
	c.print(nickStyle(color).Render(displayName(nick, "me")) + " " + text)
}

// Message prints text received from the remote peer.
func (c *Chat) Message(text string) {
	info := c.remote()
	c.print(nickStyle(info.PersonalColor).Render(displayName(info.Nickname, "peer")) + " " + text)
}

// State prints a connection state change.
func (c *Chat) State(state domain.ConnectionState) {
	switch state {
	case domain.StateConnected:
		c.print(SuccessStyle.Render("● connected"))
	case domain.StateConnecting:
		c.status("connecting...")
	default:
		c.print(WarningStyle.Render("○ disconnected") + MutedStyle.Render("  (/reconnect to retry)"))
	}
}

// Users records the latest user view.
func (c *Chat) Users(users domain.Users) {
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
}

func (c *Chat) Error(err error) {
	c.failure(err.Error())
}

func (c *Chat) remote() domain.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, info := range c.users {
		if id != c.self {
			return info
		}
	}
	return domain.UserInfo{}
}

func (c *Chat) printUsers(users domain.Users) {
	if len(users) == 0 {
		c.status("no one has set a nickname yet")
		return
	}
	ids := make([]domain.ParticipantID, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString(TitleStyle.Render("users"))
	for _, id := range ids {
		info := users[id]
		b.WriteString("\n  " + nickStyle(info.PersonalColor).Render(displayName(info.Nickname, id.String())))
		if id == c.self {
			b.WriteString(MutedStyle.Render(" (you)"))
		}
	}
	c.print(b.String())
}

func (c *Chat) currentNick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

func (c *Chat) currentColor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

func (c *Chat) status(msg string) { c.print(MutedStyle.Render(msg)) }
func (c *Chat) notice(msg string) { c.print(WarningStyle.Render(msg)) }
func (c *Chat) failure(msg string) {
	c.print(ErrorStyle.Render("✗ " + msg))
}

func (c *Chat) print(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func displayName(nick, fallback string) string {
	if nick == "" {
		return fallback
	}
	return nick
}
