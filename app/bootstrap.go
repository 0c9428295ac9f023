package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/eric11eca/thinktank-ai/app/cluster"
	"github.com/eric11eca/thinktank-ai/app/handlers"
	"github.com/eric11eca/thinktank-ai/app/metrics"
	"github.com/eric11eca/thinktank-ai/app/services"
)

// App represents the provisioner application
type App struct {
	Config      *Config
	Cluster     *cluster.Client
	Provisioner *services.ProvisionerService
	Router      *gin.Engine
}

// Bootstrap initializes the application
func Bootstrap() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	clusterClient, err := cluster.NewClient(cluster.Options{
		KubeconfigPath:    cfg.KubeconfigPath,
		APIServer:         cfg.APIServer,
		Namespace:         cfg.Namespace,
		KubeconfigTimeout: cfg.KubeconfigTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cluster client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := clusterClient.EnsureNamespace(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure namespace: %w", err)
	}
	if err := clusterClient.EnsureNetworkPolicy(ctx, cfg.InternalCIDRs); err != nil {
		return nil, fmt.Errorf("failed to ensure network policy: %w", err)
	}

	provisioner := services.NewProvisionerService(clusterClient.Clientset(), services.ProvisionerParams{
		Namespace:       cfg.Namespace,
		NodeHost:        cfg.NodeHost,
		Image:           cfg.SandboxImage,
		SkillsHostPath:  cfg.SkillsHostPath,
		ThreadsHostPath: cfg.ThreadsHostPath,
		Resources:       cfg.Resources,
	})

	sandboxHandler := handlers.NewSandboxHandler(provisioner)
	healthHandler := handlers.NewHealthHandler(clusterClient.Clientset())

	router := gin.Default()

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	setupRoutes(router, sandboxHandler, healthHandler)

	log.Printf("provisioner ready: namespace=%q image=%q node_host=%q",
		cfg.Namespace, cfg.SandboxImage, cfg.NodeHost)

	return &App{
		Config:      cfg,
		Cluster:     clusterClient,
		Provisioner: provisioner,
		Router:      router,
	}, nil
}

// setupRoutes configures HTTP routes
func setupRoutes(router *gin.Engine, sandboxHandler *handlers.SandboxHandler, healthHandler *handlers.HealthHandler) {
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.POST("/sandboxes", sandboxHandler.CreateSandbox)
	router.GET("/sandboxes", sandboxHandler.ListSandboxes)
	router.GET("/sandboxes/:id", sandboxHandler.GetSandbox)
	router.DELETE("/sandboxes/:id", sandboxHandler.DestroySandbox)
}
