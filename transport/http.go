package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/phuslu/log"

	"github.com/knights-analytics/hugot-serverless/handlers"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EnvelopeHeader marks a request body that is a full event, {"body": "..."}, rather than the body itself.
const EnvelopeHeader = "X-Event-Envelope"

const shutdownTimeout = 10 * time.Second

// DefaultMaxBodyBytes matches the synchronous lambda invocation payload limit.
const DefaultMaxBodyBytes = 6 << 20

type boundHandler struct {
	name    string
	invoker handlers.Invoker
}

// HTTPServer serves one handler over HTTP. It listens before the model is loaded
// and answers invocations with a not ready error until Install is called.
type HTTPServer struct {
	StrictStatusCodes bool
	// MaxBodyBytes caps /invoke request bodies, larger requests get 413.
	MaxBodyBytes int64

	router  *gin.Engine
	server  *http.Server
	handler atomic.Pointer[boundHandler]
}

func NewHTTPServer(addr string) *HTTPServer {
	s := &HTTPServer{router: gin.New(), MaxBodyBytes: DefaultMaxBodyBytes}
	s.router.Use(gin.Recovery())
	s.router.POST("/invoke", s.invoke)
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/readyz", func(c *gin.Context) {
		if !s.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	s.server = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Install makes invoker serve /invoke. Call it once the model context is loaded.
func (s *HTTPServer) Install(name string, invoker handlers.Invoker) {
	s.handler.Store(&boundHandler{name: name, invoker: invoker})
	log.Info().Str("handler", name).Msg("handler ready")
}

func (s *HTTPServer) Ready() bool {
	return s.handler.Load() != nil
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) invoke(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event := handlers.Event{Body: string(raw)}
	if strings.EqualFold(c.GetHeader(EnvelopeHeader), "true") {
		event = handlers.Event{}
		if err = json.Unmarshal(raw, &event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event envelope: " + err.Error()})
			return
		}
	}

	name, invoker := "unbound", handlers.Invoker(nil)
	if bound := s.handler.Load(); bound != nil {
		name, invoker = bound.name, bound.invoker
	}
	response := handlers.Handle(c.Request.Context(), name, invoker, event, s.StrictStatusCodes)
	c.Data(response.StatusCode, "application/json", []byte(response.Body))
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
