package web_service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/samber/lo"
)

type HttpMethod string

const (
	GET  HttpMethod = "GET"
	POST HttpMethod = "POST"
)

type ApiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

var (
	logger = common.InitLogger().WithName("web")
)

type WebHandler interface {
	Path() string
	Method() HttpMethod
	Handler(ctx *gin.Context)
}

// WebServer exposes client state over HTTP for the CLI's long running
// commands. It never talks to the data server itself.
type WebServer struct {
	r        *gin.Engine
	server   *http.Server
	listener net.Listener
	handlers []WebHandler
}

func NewWebServer(config *common.WebServerConfig, handlers ...WebHandler) *WebServer {
	srv := initWebServer(config)
	srv.registerHandler(&HealthCheckHandler{})
	for _, handler := range handlers {
		srv.registerHandler(handler)
	}
	return srv
}

func initWebServer(config *common.WebServerConfig) *WebServer {
	if common.IsProdRuntime() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	zapLogger := common.RawZapLogger()
	r.Use(ginzap.RecoveryWithZap(zapLogger, true))
	r.Use(ginzap.GinzapWithConfig(zapLogger, &ginzap.Config{
		UTC:        true,
		TimeFormat: time.RFC3339,
		Skipper: func(c *gin.Context) bool {
			if strings.HasPrefix(c.Request.URL.Path, "/debug") {
				return true
			}
			return c.Request.URL.Path == "/healthz" && c.Request.Method == "GET"
		},
	}))
	if config.EnablePprof {
		pprof.Register(r)
	}
	return &WebServer{
		r:        r,
		handlers: make([]WebHandler, 0),
	}
}

// Start listens on addr and serves in the background. Addr reports the bound
// address, which matters when addr uses port 0.
func (s *WebServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Stats WebServer stopped")
		}
	}()
	logger.Info("Stats WebServer started", "Addr", ln.Addr().String())
	return nil
}

func (s *WebServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the router, for tests that drive it with httptest.
func (s *WebServer) Handler() http.Handler {
	return s.r
}

func (s *WebServer) Shutdown(ctx context.Context) {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			logger.Error(err, "Failed to shutdown stats WebServer")
		} else {
			logger.Info("Stats WebServer stopped.")
		}
	}
}

func (s *WebServer) registerHandler(handler WebHandler) {
	_, ok := lo.Find(s.handlers, func(item WebHandler) bool {
		return item.Path() == handler.Path() && item.Method() == handler.Method()
	})
	if ok {
		logger.Info("handler already registered", "Path", handler.Path(),
			"Method", handler.Method())
		return
	}
	logger.V(1).Info("WebServer register handler", "Path", handler.Path(),
		"Method", handler.Method())
	switch handler.Method() {
	case GET:
		s.r.GET(handler.Path(), handler.Handler)
	case POST:
		s.r.POST(handler.Path(), handler.Handler)
	}
	s.handlers = append(s.handlers, handler)
}

var _ WebHandler = &HealthCheckHandler{}

type HealthCheckHandler struct {
}

func (h *HealthCheckHandler) Path() string {
	return "/healthz"
}

func (h *HealthCheckHandler) Method() HttpMethod {
	return GET
}

func (h *HealthCheckHandler) Handler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
