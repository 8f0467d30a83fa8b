package middleware

import (
	"context"
	"net/http"
	"taskTracker/internal/logger"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	RequestIdKey contextKey = "request_id"
	OwnerKey     contextKey = "owner"
	requestKey   contextKey = "request_info"
)

// RequestID кладёт id запроса в контекст и в поля логов всех слоёв
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := r.Header.Get("X-Request-ID")
		if requestId == "" {
			requestId = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestId)

		ctx := context.WithValue(r.Context(), RequestIdKey, requestId)
		ctx = logger.WithFields(ctx, zap.String("request_id", requestId))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestInfo заполняется внутренними middleware и читается Logging после ответа
type requestInfo struct {
	owner string
}

func setOwner(ctx context.Context, owner string) {
	if info, ok := ctx.Value(requestKey).(*requestInfo); ok {
		info.owner = owner
	}
}

type loggingWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (lw *loggingWriter) WriteHeader(code int) {
	if !lw.wroteHeader {
		lw.status = code
		lw.wroteHeader = true
		lw.ResponseWriter.WriteHeader(code)
	}
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if !lw.wroteHeader {
		lw.WriteHeader(http.StatusOK)
	}

	n, err := lw.ResponseWriter.Write(b)
	lw.size += n
	return n, err
}

// Logging пишет запрос с шаблоном маршрута chi, а не сырым путём,
// чтобы id задач не размножали ключи в логах
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		info := &requestInfo{}
		ctx := context.WithValue(r.Context(), requestKey, info)
		r = r.WithContext(ctx)

		logger.InfoCtx(ctx, "HTTP_IN: Начало запроса",
			zap.String("method", r.Method),
			zap.String("client_ip", r.RemoteAddr))

		lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)

		logLevel := zap.InfoLevel
		if lw.status >= 400 && lw.status < 500 {
			logLevel = zap.WarnLevel
		} else if lw.status >= 500 {
			logLevel = zap.ErrorLevel
		}

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", routePattern(r)),
			zap.Int("status", lw.status),
			zap.Int("bytes_written", lw.size),
			zap.Duration("ms", time.Since(start)),
		}
		if info.owner != "" {
			fields = append(fields, zap.String("owner", info.owner))
		}
		logger.LogCtx(ctx, logLevel, "HTTP_OUT: Завершение запроса", fields...)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIdKey).(string); ok {
		return id
	}
	return ""
}
