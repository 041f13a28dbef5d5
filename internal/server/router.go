package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/MarcoPoloResearchLab/corkboard/internal/forum"
	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"github.com/MarcoPoloResearchLab/corkboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/corkboard/internal/presence"
	"github.com/MarcoPoloResearchLab/corkboard/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"
)

const defaultStreamHeartbeat = 15 * time.Second

var (
	errMissingForumRepository = errors.New("forum repository dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingPresenceBoard   = errors.New("presence board dependency required")
	errMissingStore           = errors.New("store dependency required")
	errMissingAdminGate       = errors.New("admin gate dependency required")
)

var registerValidatorsOnce sync.Once

// AdminAuthorizer guards the moderation routes.
type AdminAuthorizer interface {
	Login(password string) (auth.AdminSession, error)
	AuthorizeRequest(r *http.Request) error
	CookieName() string
	TokenTTLSeconds() int
}

// Dependencies wires the HTTP surface to the board services.
type Dependencies struct {
	Forum    *forum.Repository
	Users    *users.Service
	Presence *presence.Board
	// Store delivers thread and reply change notifications to stream clients.
	Store     kvstore.Store
	AdminGate AdminAuthorizer
	Metrics   *metrics.Recorder
	Logger    *zap.Logger

	AllowedOrigins  []string
	LatestLimit     int
	StreamHeartbeat time.Duration
}

// NewHTTPHandler builds the gin engine serving the board API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Forum == nil {
		return nil, errMissingForumRepository
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Presence == nil {
		return nil, errMissingPresenceBoard
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.AdminGate == nil {
		return nil, errMissingAdminGate
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	latestLimit := deps.LatestLimit
	if latestLimit <= 0 {
		latestLimit = forum.DefaultLatestLimit
	}
	streamHeartbeat := deps.StreamHeartbeat
	if streamHeartbeat <= 0 {
		streamHeartbeat = defaultStreamHeartbeat
	}
	registerValidators(logger)

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		forum:           deps.Forum,
		users:           deps.Users,
		presence:        deps.Presence,
		store:           deps.Store,
		admin:           deps.AdminGate,
		logger:          logger,
		latestLimit:     latestLimit,
		streamHeartbeat: streamHeartbeat,
	}

	router.GET("/threads", handler.handleListThreads)
	router.GET("/threads/latest", handler.handleLatestThreads)
	router.GET("/threads/:id", handler.handleGetThread)
	router.POST("/threads", handler.handleCreateThread)
	router.POST("/threads/:id/replies", handler.handleCreateReply)

	router.GET("/username", handler.handleGetUsername)
	router.PUT("/username", handler.handleSetUsername)
	router.DELETE("/username", handler.handleClearUsername)
	router.GET("/preferences/background", handler.handleGetBackground)
	router.PUT("/preferences/background", handler.handleSetBackground)
	router.DELETE("/preferences/background", handler.handleClearBackground)

	router.GET("/presence", handler.handlePresenceCount)
	router.POST("/presence/heartbeat", handler.handlePresenceHeartbeat)
	router.DELETE("/presence/sessions/:session_id", handler.handlePresenceLeave)
	router.GET("/presence/stream", handler.handlePresenceStream)

	router.POST("/admin/session", handler.handleAdminLogin)
	router.DELETE("/admin/session", handler.handleAdminLogout)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeAdmin)
	admin.PATCH("/threads/:id", handler.handleUpdateThread)
	admin.DELETE("/threads/:id", handler.handleDeleteThread)
	admin.PATCH("/replies/:id", handler.handleUpdateReply)
	admin.DELETE("/replies/:id", handler.handleDeleteReply)
	admin.GET("/blocked-ips", handler.handleListBlockedIPs)
	admin.POST("/blocked-ips", handler.handleAddBlockedIP)
	admin.DELETE("/blocked-ips/:ip", handler.handleRemoveBlockedIP)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router, nil
}

type httpHandler struct {
	forum           *forum.Repository
	users           *users.Service
	presence        *presence.Board
	store           kvstore.Store
	admin           AdminAuthorizer
	logger          *zap.Logger
	latestLimit     int
	streamHeartbeat time.Duration
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Credentials rule out a literal wildcard, so reflect the caller's origin.
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

// registerValidators adds the notblank rule to gin's validator engine.
func registerValidators(logger *zap.Logger) {
	registerValidatorsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			logger.Warn("gin validator engine is not go-playground validator; notblank unavailable")
			return
		}
		if err := engine.RegisterValidation("notblank", validators.NotBlank); err != nil {
			logger.Error("failed to register notblank validator", zap.Error(err))
		}
	})
}

func respondError(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func (h *httpHandler) respondInternalError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err), zap.String("path", c.FullPath()))
	respondError(c, http.StatusInternalServerError, "internal_error")
}
