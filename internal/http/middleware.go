package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	errx "github.com/toleds/rag-bot/internal/core/error"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// HeaderProcessTime carries the handler latency in seconds.
const HeaderProcessTime = "X-Process-Time"

// processTime sets the latency header before the body is written.
func processTime() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Writer = &timedWriter{ResponseWriter: c.Writer, start: start}
		c.Next()
	}
}

type timedWriter struct {
	gin.ResponseWriter
	start   time.Time
	written bool
}

func (w *timedWriter) stamp() {
	if w.written {
		return
	}
	w.written = true
	elapsed := time.Since(w.start).Seconds()
	w.Header().Set(HeaderProcessTime, strconv.FormatFloat(elapsed, 'f', -1, 64))
}

func (w *timedWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timedWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *timedWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logx.Info()
		switch {
		case status >= http.StatusInternalServerError:
			ev = logx.Error()
		case status >= http.StatusBadRequest:
			ev = logx.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		logx.Error().Str("path", c.Request.URL.Path).Msgf("panic recovered: %v", rec)
		respondError(c, fmt.Errorf("panic: %v", rec))
	})
}

// respondError maps err to its status and writes {"detail": message}.
func respondError(c *gin.Context, err error) {
	status, message := errx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"detail": message})
}
