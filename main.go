package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.OTLPEndpoint, "chat-realtime")
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	stateRepo := repositories.NewStateRepo(database)

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, observability.RoutingKeyAudit, "chat-realtime", cfg.Environment)

	if cfg.AMQPURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	registry := realtime.NewConnectionRegistry()
	presence := realtime.NewPresenceTracker(cfg.PresenceGrace, cfg.PresenceIdle, stateRepo)
	registry.Notify(presence.HandleConnectionEvent)
	defer presence.Close()

	table := ws.NewConnTable()
	fanout := realtime.NewFanoutRouter(registry, table)
	defer fanout.Close()

	members := realtime.NewMembershipCache(roomRepo)
	delivery := realtime.NewDeliveryTracker()
	reactions := realtime.NewReactionLedger()
	coordinator := realtime.NewMessageCoordinator(messageRepo, members, delivery, reactions, fanout, stateRepo)

	// Presence changes fan out to every room the user belongs to and are
	// mirrored onto the broker for other services.
	presence.SetSink(func(change realtime.PresenceChange) {
		observability.IncPresenceTransition(string(change.Status))

		event := models.Event{
			Type:     models.EventPresenceChanged,
			UserID:   change.UserID,
			Status:   string(change.Status),
			LastSeen: &change.LastSeen,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rooms, err := members.RoomsForUser(ctx, change.UserID)
		if err != nil {
			log.Printf("presence fanout: room lookup failed for user %d: %v", change.UserID, err)
			rooms = nil
		}
		for _, roomID := range rooms {
			fanout.DispatchToRoom(roomID, event)
		}

		_ = observability.PublishEvent(ctx, observability.RoutingKeyPresence, observability.EventEnvelope{
			EventType: "chat_events",
			EventName: models.EventPresenceChanged,
			Payload:   event,
		}, nil)
	})

	authenticator := auth.NewAuthenticator(cfg.JWTSecret)
	gateway := ws.NewGateway(registry, presence, coordinator, members, table, authenticator)

	roomHandler := handlers.NewRoomHandler(roomRepo, members, fanout, audit)
	messageHandler := handlers.NewMessageHandler(messageRepo, stateRepo, members, coordinator, delivery)
	reactionHandler := handlers.NewReactionHandler(messageRepo, members, coordinator, reactions)
	presenceHandler := handlers.NewPresenceHandler(presence)
	debugHandler := handlers.NewDebugHandler(registry)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-realtime"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(authenticator)

	router.POST("/rooms", authMiddleware, roomHandler.CreateRoom)
	router.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	router.POST("/rooms/:room_id/members", authMiddleware, roomHandler.AddMember)
	router.DELETE("/rooms/:room_id/members/:user_id", authMiddleware, roomHandler.RemoveMember)

	router.GET("/rooms/:room_id/messages", authMiddleware, messageHandler.ListRoomMessages)
	router.POST("/rooms/:room_id/messages", authMiddleware, messageHandler.PostMessage)
	router.POST("/messages/:message_id/read", authMiddleware, messageHandler.AcknowledgeRead)
	router.GET("/messages/:message_id/delivery", authMiddleware, messageHandler.DeliveryStates)

	router.POST("/messages/:message_id/reactions", authMiddleware, reactionHandler.ToggleReaction)
	router.GET("/messages/:message_id/reactions", authMiddleware, reactionHandler.ListReactions)

	router.GET("/presence/:user_id", authMiddleware, presenceHandler.GetPresence)

	router.GET("/ws", gateway.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/debug/vitals", debugHandler.Vitals)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("chat-realtime listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
