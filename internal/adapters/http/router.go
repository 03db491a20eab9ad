package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Conference/internal/adapters/signal"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session so
// log lines from one browser can be correlated across reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("client_token").(string)
		if token == "" {
			token = genClientToken()
			sess.Set("client_token", token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Orch   *orch.Orchestrator
	Signal *signal.SignalWSController
	Pool   *app.WorkerPool
}

type createRoomRequest struct {
	Name string `json:"name" binding:"required,max=64"`
}

type roomDetail struct {
	app.RoomInfo
	Clients []core.ClientInfo `json:"clients"`
}

// SetupRouter builds the engine. ctx bounds websocket sessions and must
// outlive every request.
func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConferenceSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": d.Orch.Registry.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	rooms := roomsHandler{orch: d.Orch}
	api.GET("/rooms", rooms.list)
	api.POST("/rooms", rooms.create)
	api.GET("/rooms/:id", rooms.get)
	api.DELETE("/rooms/:id", rooms.evict)

	api.DELETE("/sessions/:sid", func(c *gin.Context) {
		if !d.Orch.Kick(core.SessionID(c.Param("sid"))) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/workers", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Pool.Stats())
	})

	return r
}

type roomsHandler struct {
	orch *orch.Orchestrator
}

func (h roomsHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.KnownRooms())
}

func (h roomsHandler) create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := h.orch.CreateRoom(c.Request.Context(), req.Name)
	switch {
	case errors.Is(err, orch.ErrEmptyRoomName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("room_name", req.Name).Msg("create room")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, info)
	}
}

func (h roomsHandler) get(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	info, ok := h.orch.Rooms.Info(id)
	room, found := h.orch.Rooms.GetRoom(id)
	if !ok || !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, roomDetail{RoomInfo: info, Clients: room.Clients()})
}

func (h roomsHandler) evict(c *gin.Context) {
	if !h.orch.EvictRoom(domain.RoomID(c.Param("id"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
