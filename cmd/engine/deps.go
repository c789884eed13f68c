package main

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/config"
	"github.com/tutorlink/chat-app/internal/events"
	"github.com/tutorlink/chat-app/internal/guest"
	"github.com/tutorlink/chat-app/internal/lifecycle"
	"github.com/tutorlink/chat-app/internal/match"
	"github.com/tutorlink/chat-app/internal/message"
	"github.com/tutorlink/chat-app/internal/messaging"
	"github.com/tutorlink/chat-app/internal/presence"
	"github.com/tutorlink/chat-app/internal/report"
	"github.com/tutorlink/chat-app/internal/session"
)

// engineDeps is the wired object graph behind the engine's entry points.
// The transport layer (not part of this service) calls into these via the
// exposed packages; this binary hosts the background loops and subscribers.
type engineDeps struct {
	guests      *guest.Store
	presence    *presence.Store
	chats       *chat.Store
	presenceSvc *presence.Service
	engine      *match.Engine
	controller  *lifecycle.Controller
	pipeline    *message.Pipeline
	reports     *report.Service
	sessions    *session.Resolver
}

func buildEngine(db *sql.DB, rdb *redis.Client, natsClient *messaging.Client,
	pub events.Publisher, clk clock.Clock, cfg *config.Config) (*engineDeps, error) {

	guests := guest.NewStore(db, clk)
	presenceStore := presence.NewStore(db, clk, cfg.PresenceTTL)
	chats := chat.NewStore(db, clk)
	messages := message.NewStore(db, clk)

	detector, err := message.NewDetector(cfg.PIIPatterns)
	if err != nil {
		return nil, err
	}

	policy := match.Policy{RequireOppositeRoles: cfg.RequireOppositeRoles}

	return &engineDeps{
		guests:      guests,
		presence:    presenceStore,
		chats:       chats,
		presenceSvc: presence.NewService(guests, presenceStore, chats),
		engine:      match.NewEngine(db, clk, policy, cfg.PresenceTTL, pub),
		controller:  lifecycle.NewController(db, clk, cfg.PresenceTTL, cfg.ChatTimeout, pub),
		pipeline:    message.NewPipeline(chats, messages, detector, pub),
		reports: report.NewService(report.NewStore(db, clk), chats, guests, messages,
			pub, natsClient, cfg.ReportBanThreshold),
		sessions: session.NewResolver(rdb, guests, clk, cfg.SessionCacheTTL),
	}, nil
}
