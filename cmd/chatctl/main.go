// chatctl is a terminal chat client: log in, list who is around, and hold a
// 1:1 conversation. When no backend is reachable it degrades to the built-in
// demo data, so every screen works offline.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"chatclient-go/internal/chat"
	"chatclient-go/internal/config"
	"chatclient-go/internal/models"
	"chatclient-go/internal/presence"
	"chatclient-go/internal/rest"
	"chatclient-go/internal/session"
	"chatclient-go/internal/socket"
)

const usage = `usage: chatctl [-config file] <command> [args]

commands:
  register <username> <password> [display name]
  login    <username> <password>
  logout
  users
  chat     <username>
`

func main() {
	log.SetFlags(0)

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := session.NewFileStore(cfg.Client.SessionDir)
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}

	app := &app{cfg: cfg, store: store}
	switch args[0] {
	case "register":
		err = app.register(args[1:])
	case "login":
		err = app.login(args[1:])
	case "logout":
		err = app.logout()
	case "users":
		err = app.users()
	case "chat":
		err = app.chat(args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("chatctl: %v", err)
	}
}

type app struct {
	cfg   config.Config
	store session.Store
}

func (a *app) newClient() *rest.Client {
	tokens := rest.TokenFunc(func() (string, error) {
		return a.store.Get(session.KeyToken)
	})
	return rest.NewClient(a.cfg.Client.ServerURL, a.cfg.Client.RequestTimeout, tokens)
}

// requireSession loads the persisted login or tells the user to log in.
func (a *app) requireSession() (*session.Session, error) {
	sess, err := session.Load(a.store)
	if errors.Is(err, session.ErrNotFound) {
		return nil, errors.New("not logged in, run: chatctl login <username> <password>")
	}
	return sess, err
}

func (a *app) register(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: chatctl register <username> <password> [display name]")
	}
	req := models.RegisterRequest{Username: args[0], Password: args[1]}
	if len(args) > 2 {
		req.DisplayName = strings.Join(args[2:], " ")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Client.RequestTimeout)
	defer cancel()
	user, err := a.newClient().Register(ctx, req)
	if err != nil {
		return describeRequestError(err)
	}
	fmt.Printf("registered %s (id %s), now log in\n", user.Username, user.ID)
	return nil
}

func (a *app) login(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: chatctl login <username> <password>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Client.RequestTimeout)
	defer cancel()
	resp, err := a.newClient().Login(ctx, args[0], args[1])
	if err != nil {
		return describeRequestError(err)
	}
	if err := session.Save(a.store, resp.Token, resp.User); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", resp.User.Username)
	return nil
}

func (a *app) logout() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Client.RequestTimeout)
	defer cancel()
	if err := a.newClient().Logout(ctx); err != nil && !errors.Is(err, rest.ErrUnavailable) {
		log.Printf("server-side logout failed: %v", err)
	}
	if err := session.Clear(a.store); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func (a *app) users() error {
	if _, err := a.requireSession(); err != nil {
		return err
	}

	tracker := presence.New(presence.Options{
		Roster:       a.newClient(),
		DemoFallback: a.cfg.Client.DemoFallback,
	})
	defer tracker.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Client.RequestTimeout)
	defer cancel()
	if err := tracker.LoadRoster(ctx); err != nil {
		return describeRequestError(err)
	}

	for _, u := range tracker.Roster() {
		fmt.Println(formatRosterLine(u))
	}
	return nil
}

func formatRosterLine(u models.User) string {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	status := "offline"
	if u.IsOnline {
		status = "online"
	} else if u.LastSeenAt != nil {
		status = "last seen " + u.LastSeenAt.Format("15:04")
	}
	return fmt.Sprintf("%-3s %-20s %s", u.ID, name, status)
}

func (a *app) chat(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: chatctl chat <username>")
	}
	sess, err := a.requireSession()
	if err != nil {
		return err
	}

	client := a.newClient()
	recipient, err := a.resolveRecipient(client, args[0])
	if err != nil {
		return err
	}

	// One realtime connection for the whole chat session. An unreachable
	// socket is not fatal: sends just stay local.
	manager := socket.NewManager(a.cfg.Client.SocketURL, a.cfg.WebSocket)
	dialCtx, cancelDial := context.WithTimeout(context.Background(), a.cfg.Client.RequestTimeout)
	if _, err := manager.Initialize(dialCtx, sess.Token); err != nil {
		log.Printf("realtime connection unavailable: %v", err)
	}
	cancelDial()
	defer manager.Teardown()

	view := &chatView{out: os.Stdout, self: sess.User.ID}
	convo := chat.New(chat.Options{
		RecipientID:   recipient.ID,
		RecipientName: recipient.DisplayName,
		Self:          sess.User.Ref(),
		History:       client,
		Socket: func() (chat.EventSocket, bool) {
			conn, ok := manager.Current()
			if !ok {
				return nil, false
			}
			return conn, true
		},
		DedupeEcho:       a.cfg.Client.DedupeEcho,
		DemoFallback:     a.cfg.Client.DemoFallback,
		OnChange:         view.render,
		OnScrollToBottom: func() {},
	})
	view.convo = convo
	defer convo.Teardown()

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), a.cfg.Client.RequestTimeout)
	err = convo.LoadInitial(loadCtx)
	cancelLoad()
	if err != nil {
		return describeRequestError(err)
	}

	name := recipient.DisplayName
	if name == "" {
		name = recipient.Username
	}
	fmt.Printf("chatting with %s -- type a message, /quit to leave\n", name)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		convo.EmitTypingStart()
		if !scanner.Scan() {
			convo.EmitTypingStop()
			return scanner.Err()
		}
		line := scanner.Text()
		convo.EmitTypingStop()
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}
		convo.Send(line)
	}
}

// resolveRecipient matches a username or user id against the roster.
func (a *app) resolveRecipient(client *rest.Client, nameOrID string) (*models.User, error) {
	tracker := presence.New(presence.Options{
		Roster:       client,
		DemoFallback: a.cfg.Client.DemoFallback,
	})
	defer tracker.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Client.RequestTimeout)
	defer cancel()
	if err := tracker.LoadRoster(ctx); err != nil {
		return nil, describeRequestError(err)
	}

	for _, u := range tracker.Roster() {
		if u.Username == nameOrID || u.ID == nameOrID {
			user := u
			return &user, nil
		}
	}
	return nil, fmt.Errorf("no such user %q", nameOrID)
}

// chatView prints conversation updates as they happen. render is called from
// both the input loop and the socket read pump, so the view carries its own
// mutex.
type chatView struct {
	mu     sync.Mutex
	out    io.Writer
	self   string
	convo  *chat.Conversation
	shown  int
	typing bool
}

func (v *chatView) render() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.convo == nil {
		// An event can land between chat.New and the view binding.
		return
	}
	msgs := v.convo.Messages()
	for ; v.shown < len(msgs); v.shown++ {
		m := msgs[v.shown]
		who := m.Sender.DisplayName
		if who == "" {
			who = m.Sender.ID
		}
		if m.Sender.ID == v.self {
			who = "you"
		}
		fmt.Fprintf(v.out, "[%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, m.Text)
	}

	if t := v.convo.PeerTyping(); t != v.typing {
		v.typing = t
		if t {
			fmt.Fprintln(v.out, "... typing")
		}
	}
}

// describeRequestError turns the rest error taxonomy into user-facing text.
func describeRequestError(err error) error {
	if errors.Is(err, rest.ErrUnavailable) {
		return fmt.Errorf("backend unreachable (is the demo server running?): %w", err)
	}
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		return errors.New(apiErr.Message)
	}
	return err
}
