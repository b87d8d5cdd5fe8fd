package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/crossfusion/swapd/internal/core/application"
	"github.com/crossfusion/swapd/internal/core/ports"
	"github.com/crossfusion/swapd/internal/infrastructure/notifier"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type service struct {
	*gin.Engine

	coordinator *application.Coordinator
	monitor     *application.Monitor
	scheduler   ports.SchedulerService
	hub         *notifier.WebsocketHub

	server *http.Server
}

func NewService(
	port uint32,
	coordinator *application.Coordinator,
	monitor *application.Monitor,
	scheduler ports.SchedulerService,
	hub *notifier.WebsocketHub,
) *service {
	router := gin.New()
	router.Use(gin.Recovery())

	svc := &service{
		Engine:      router,
		coordinator: coordinator,
		monitor:     monitor,
		scheduler:   scheduler,
		hub:         hub,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	v1 := svc.Group("/v1")
	v1.POST("/swaps", svc.createSwap)
	v1.GET("/swaps", svc.listSwaps)
	v1.GET("/swaps/:id", svc.getSwap)
	v1.POST("/swaps/:id/fail", svc.failSwap)

	v1.POST("/auctions", svc.createAuction)
	v1.GET("/price", svc.getPrice)

	v1.GET("/stats", svc.getStats)
	v1.GET("/status", svc.getStatus)

	if hub != nil {
		v1.GET("/ws", func(c *gin.Context) {
			hub.HandleUpgrade(c.Writer, c.Request)
		})
	}

	return svc
}

func (s *service) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server exited")
		}
	}()
	log.WithField("addr", s.server.Addr).Info("http server started")
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// nolint:all
	s.server.Shutdown(ctx)
}
