package main

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"whatsapp-crm/internal/api"
	"whatsapp-crm/internal/auth"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/relay"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/webhook"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/ws"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// Startup misconfiguration is the only fatal error in the system.
		logger.New("production").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)

	st, err := store.Open(cfg)
	if err != nil {
		log.Error("store unavailable", "error", err)
		os.Exit(1)
	}

	deliveryClient := whatsapp.NewClient(cfg, log)
	rl := relay.New(st, deliveryClient, log)
	authSvc := auth.NewService(st, log)
	hub := ws.NewHub(st, authSvc, rl, cfg.DefaultRegion, log)
	rl.SetFanout(hub)

	webhookHandler := webhook.NewHandler(cfg, rl, log)
	appointmentHandler := api.NewAppointmentHandler(st)
	templateHandler := api.NewTemplateHandler(st, rl, cfg.DefaultRegion)
	mediaHandler := api.NewMediaHandler(st, deliveryClient, cfg.MediaDir, log)
	analyticsHandler := api.NewAnalyticsHandler(st)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}))

	r.GET("/webhook", webhookHandler.Verify)
	r.POST("/webhook", webhookHandler.Receive)

	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/appointments", appointmentHandler.List)
		apiGroup.POST("/appointments", appointmentHandler.Create)
		apiGroup.PUT("/appointments/:id", appointmentHandler.Update)
		apiGroup.DELETE("/appointments/:id", appointmentHandler.Delete)
		apiGroup.POST("/appointments/generate", appointmentHandler.Generate)

		apiGroup.GET("/templates", templateHandler.List)
		apiGroup.POST("/create-template", templateHandler.Create)
		apiGroup.DELETE("/delete-template/:id", templateHandler.Delete)
		apiGroup.POST("/send-template", templateHandler.Send)

		apiGroup.POST("/upload", mediaHandler.Upload)
		apiGroup.GET("/media/:id", mediaHandler.Get)

		apiGroup.GET("/analytics", analyticsHandler.Get)
	}

	log.Info("server starting", "port", cfg.Port, "outbound_enabled", cfg.OutboundEnabled())
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
