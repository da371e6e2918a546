package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/tokmz/rtguard"
	"github.com/tokmz/rtguard/pkg/auth"
	"github.com/tokmz/rtguard/pkg/config"
	"github.com/tokmz/rtguard/pkg/directory"
	"github.com/tokmz/rtguard/pkg/logger"
	"github.com/tokmz/rtguard/pkg/session"
	"github.com/tokmz/rtguard/pkg/ws"
)

func main() {
	file := flag.String("config", "", "config file path")
	seed := flag.Bool("seed", false, "create a demo admin and user with sessions")
	flag.Parse()

	var (
		guard *rtguard.Guard
		lg    logger.Logger
	)
	// 配置文件变更时只重新加载 origin 和限流参数
	var cfg *config.Config
	cfg = rtguard.NewConfig(*file, config.WithOnChange(func() {
		s, warnings := rtguard.LoadSettings(cfg)
		for _, w := range warnings {
			lg.Warn("config warning", zap.String("warning", w))
		}
		guard.Reload(s)
	}))
	if err := cfg.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}

	settings, warnings := rtguard.LoadSettings(cfg)
	lg, err := settings.NewLogger()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	for _, w := range warnings {
		lg.Warn("config warning", zap.String("warning", w))
	}

	ctx := context.Background()
	guard, err = rtguard.NewGuard(ctx, settings, lg)
	if err != nil {
		lg.Error("init guard failed", zap.Error(err))
		return
	}

	if *file != "" {
		if err := cfg.StartWatch(); err != nil {
			lg.Warn("config watch unavailable", zap.Error(err))
		}
		defer cfg.Close()
	}

	m := guard.Manager()
	if err := m.RegisterNamespace("", ws.Handlers{
		"room.join": joinRoom,
		"room.say":  sayInRoom(m),
	}, false); err != nil {
		lg.Error("register namespace failed", zap.Error(err))
		return
	}
	if err := m.RegisterNamespace(auth.AdminNamespace, ws.Handlers{
		"broadcast": adminBroadcast(m),
	}, true, ws.RequireAdmin(guard.Auth(), auth.PermAdminBroadcast)); err != nil {
		lg.Error("register namespace failed", zap.Error(err))
		return
	}
	if _, err := m.CreateRoom("lobby", "", "public", 0, map[string]any{ws.MetaAutoJoin: true}); err != nil {
		lg.Error("create lobby failed", zap.Error(err))
		return
	}

	if *seed {
		seedDemo(ctx, guard, lg)
	}

	if err := rtguard.NewServer(settings.Server, guard, lg).Run(); err != nil {
		lg.Error("server exited", zap.Error(err))
	}
}

func joinRoom(_ context.Context, req *ws.Request) error {
	var in struct {
		Room string `json:"room"`
	}
	if err := req.Bind(&in); err != nil {
		return err
	}
	if err := req.Client.JoinRoom(in.Room); err != nil {
		return err
	}
	return req.Reply(map[string]any{"joined": in.Room})
}

func sayInRoom(m *ws.Manager) ws.Handler {
	return func(_ context.Context, req *ws.Request) error {
		var in struct {
			Room string `json:"room"`
			Text string `json:"text"`
		}
		if err := req.Bind(&in); err != nil {
			return err
		}
		return m.BroadcastToRoom(in.Room, "room.message", map[string]any{
			"from": req.Auth.DisplayName,
			"text": in.Text,
		})
	}
}

func adminBroadcast(m *ws.Manager) ws.Handler {
	return func(_ context.Context, req *ws.Request) error {
		var in struct {
			Text string `json:"text"`
		}
		if err := req.Bind(&in); err != nil {
			return err
		}
		return m.BroadcastToNamespace("", "announcement", map[string]any{"text": in.Text})
	}
}

func seedDemo(ctx context.Context, guard *rtguard.Guard, log logger.Logger) {
	users := []struct {
		user    directory.User
		session string
	}{
		{directory.User{ID: 1, DisplayName: "admin", Role: string(auth.RoleAdmin), Active: true}, "demo-admin"},
		{directory.User{ID: 2, DisplayName: "alice", Role: string(auth.RoleUser), Active: true}, "demo-user"},
	}
	for _, u := range users {
		if err := guard.Directory().Upsert(ctx, &u.user); err != nil {
			log.Error("seed user failed", zap.Error(err))
			return
		}
		if err := guard.Sessions().Save(ctx, u.session, session.Record{UserID: u.user.ID, Active: true}); err != nil {
			log.Error("seed session failed", zap.Error(err))
			return
		}
		log.Info("demo session", zap.String("session_id", u.session), zap.String("role", u.user.Role))
	}
}
