// Terminal chat client: logs in, connects to the broker and mirrors one
// conversation at a time through the room synchronizer.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/broker"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/histcache"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/roomsync"
	"github.com/chatsync/internal/session"
)

func main() {
	logger.SetPrefix("chat")
	cfg := config.Load()

	username := os.Getenv("CHAT_USERNAME")
	password := os.Getenv("CHAT_PASSWORD")
	if username == "" || password == "" {
		fmt.Fprintln(os.Stderr, "CHAT_USERNAME and CHAT_PASSWORD must be set")
		os.Exit(2)
	}

	// The client reads the token per request, so it can be built before the
	// session exists and survives token refresh.
	var sess atomic.Pointer[session.Session]
	client := api.New(cfg.API.BaseURL, func() string {
		if s := sess.Load(); s != nil {
			return s.Token()
		}
		return ""
	}, cfg.API.MaxUploadMB)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	auth, err := client.Login(ctx, username, password)
	cancel()
	if err != nil {
		logger.Errorf("login: %v", err)
		os.Exit(1)
	}
	sess.Store(session.New(auth))
	logger.Infof("logged in as %s (%s)", auth.Username, auth.UserID)

	mgr := broker.New(broker.Config{
		URL:            cfg.WS.URL,
		Token:          func() string { return sess.Load().Token() },
		ReconnectDelay: cfg.ReconnectDelay(),
		Heartbeat:      cfg.Heartbeat(),
	})

	var cache *histcache.Cache
	var history roomsync.History
	if cfg.Cache.Path != "" {
		cache, err = histcache.Open(cfg.Cache.Path)
		if err != nil {
			logger.Errorf("history cache disabled: %v", err)
		} else {
			history = cache
		}
	}

	view := &viewPrinter{}
	sync := roomsync.New(client, mgr, roomsync.User{ID: auth.UserID, Name: auth.Username}, roomsync.Config{
		History:       history,
		TypingTimeout: cfg.TypingTimeout(),
		OnUpdate:      view.render,
	})
	view.sync = sync

	mgr.Connect(
		func() { logger.Info("broker connected") },
		func(err error) { logger.Errorf("broker session ended: %v (re-run to re-authenticate)", err) },
	)

	if cfg.MetricsAddr != "" {
		go serveDebug(cfg.MetricsAddr)
	}

	go inputLoop(client, sync, auth.UserID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sync.Close()
	mgr.Disconnect()
	if cache != nil {
		cache.Close()
	}
	logger.Info("bye")
}

func serveDebug(addr string) {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Infof("debug server on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Errorf("debug server: %v", err)
	}
}

func inputLoop(client *api.Client, sync *roomsync.Synchronizer, userID string) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /rooms, /open <roomId>, /file <path> [caption], /react <msgId> <emoji>, /quit")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		case line == "/rooms":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			rooms, err := client.Rooms(ctx, userID)
			cancel()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, r := range rooms {
				fmt.Printf("  %s  %s\n", r.ID, r.Name)
			}
		case strings.HasPrefix(line, "/open "):
			roomID := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			for _, m := range sync.CachedHistory(roomID) {
				printMessage(m)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := sync.Open(ctx, roomID)
			cancel()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("-- joined", roomID)
		case strings.HasPrefix(line, "/file "):
			sendFile(sync, strings.TrimPrefix(line, "/file "))
		case strings.HasPrefix(line, "/react "):
			parts := strings.Fields(strings.TrimPrefix(line, "/react "))
			if len(parts) != 2 {
				fmt.Println("usage: /react <msgId> <emoji>")
				continue
			}
			sync.SendReaction(parts[0], parts[1])
		default:
			sync.Typing()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			_, err := sync.SendMessage(ctx, line, nil)
			cancel()
			if err != nil {
				fmt.Println("error:", err)
			}
		}
	}
}

func sendFile(sync *roomsync.Synchronizer, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		fmt.Println("usage: /file <path> [caption]")
		return
	}
	path := fields[0]
	caption := strings.TrimSpace(strings.TrimPrefix(args, path))

	f, err := os.Open(path)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	_, err = sync.SendMessage(ctx, caption, &roomsync.Attachment{
		Name:   filepath.Base(path),
		Size:   info.Size(),
		Reader: f,
	})
	if err != nil {
		fmt.Println("error:", err)
	}
}

// viewPrinter prints the tail of the merged view as it grows.
type viewPrinter struct {
	sync    *roomsync.Synchronizer
	printed atomic.Int64
}

func (v *viewPrinter) render() {
	if v.sync == nil {
		return
	}
	msgs := v.sync.Messages()
	from := int(v.printed.Load())
	if from > len(msgs) {
		from = 0 // view was replaced on room switch
	}
	for _, m := range msgs[from:] {
		printMessage(m)
	}
	v.printed.Store(int64(len(msgs)))
	if u := v.sync.TypingUser(); u != "" {
		fmt.Printf("  %s is typing...\n", u)
	}
}

func printMessage(m model.Message) {
	when := m.Timestamp.Local().Format("15:04:05")
	switch {
	case m.SystemNotice():
		fmt.Printf("[%s] -- %s %s\n", when, m.SenderName, strings.ToLower(string(m.Type)))
	case m.Type == model.EventFile:
		fmt.Printf("[%s] %s sent a file %v %s\n", when, m.SenderName, m.Attachments, m.Content)
	default:
		fmt.Printf("[%s] %s: %s\n", when, m.SenderName, m.Content)
	}
}
