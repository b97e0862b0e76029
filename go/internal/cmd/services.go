package main

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/actor"
	"github.com/mcdev12/tavern/go/internal/chat"
	chatdb "github.com/mcdev12/tavern/go/internal/chat/db"
	"github.com/mcdev12/tavern/go/internal/config"
	"github.com/mcdev12/tavern/go/internal/gateway"
	"github.com/mcdev12/tavern/go/internal/hud"
	"github.com/mcdev12/tavern/go/internal/relay"
	"github.com/mcdev12/tavern/go/internal/sheets"
	"github.com/mcdev12/tavern/go/internal/voice"
)

type Services struct {
	Connections  *gateway.ConnectionManager
	HUD          *hud.App
	HUDStream    *hud.Service
	TimerWatcher *hud.Mirror // nil when disabled
	Relay        *relay.Relay
	Maps         *relay.Service
	Sheets       *sheets.Service
	Chat         *chat.Service
	Voice        *voice.Issuer
}

func setupServices(cfg *config.Config, infra *Infra) *Services {
	// Wire up dependency injection chain
	// Store layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()
	auth := actor.NewAuthorizer(cfg.MasterEmails)
	if len(cfg.MasterEmails) == 0 {
		log.Warn().Msg("no master emails configured, only the server can change shared state")
	}

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.CheckOrigin = checkOrigin(cfg.HTTP.AllowedOrigins)
	cm := gateway.NewConnectionManager(connCfg)

	// Sheets
	sheetRepo := sheets.NewRepository(infra.Store)
	sheetService := sheets.NewService(sheetRepo, auth)

	// HUD
	hudRepo := hud.NewRepository(infra.Store)
	hudApp := hud.NewApp(hudRepo, sheetRepo, auth, clock, hud.IdentifierMode(cfg.HUD.IdentifierMode))
	hudService := hud.NewService(hudApp, cm, clock)

	var watcher *hud.Mirror
	if cfg.HUD.TimerWatcher {
		watcher = hud.NewMirror(hudApp, hud.MirrorConfig{Actor: actor.System, Clock: clock})
	}

	// Battle map
	tokenRepo := relay.NewTokenRepository(infra.Store)
	mapRelay := relay.NewRelay(tokenRepo, infra.Bus, cm, auth, clock)
	mapService := relay.NewService(mapRelay, cm)

	// Chat
	var chatRepo chat.ChatRepository
	if infra.ChatDB != nil {
		chatRepo = chat.NewRepository(chatdb.New(infra.ChatDB))
	} else {
		chatRepo = chat.NewMemoryRepository(cfg.Chat.History)
	}
	chatApp := chat.NewApp(chatRepo, clock, cfg.Chat.History)
	chatService := chat.NewService(chatApp, cm)

	// Voice
	issuer := voice.NewIssuer(cfg.Voice.APIKey, cfg.Voice.APISecret, cfg.Voice.TokenTTL, clock)

	return &Services{
		Connections:  cm,
		HUD:          hudApp,
		HUDStream:    hudService,
		TimerWatcher: watcher,
		Relay:        mapRelay,
		Maps:         mapService,
		Sheets:       sheetService,
		Chat:         chatService,
		Voice:        issuer,
	}
}
