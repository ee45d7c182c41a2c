// Package logging configures the JSON slog logger and carries per-request
// attributes for error and security event logs.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// SecurityEvent names a suspicious or rejected request in WARN logs.
type SecurityEvent string

const (
	SecurityEventMissingAuth     SecurityEvent = "missing_auth"
	SecurityEventInvalidAuthFmt  SecurityEvent = "invalid_auth_format"
	SecurityEventInvalidJWT      SecurityEvent = "invalid_jwt"
	SecurityEventNonHostAccess   SecurityEvent = "non_host_access"
	SecurityEventForeignParty    SecurityEvent = "foreign_party"
	SecurityEventUnknownParty    SecurityEvent = "unknown_party"
	SecurityEventBadHostPassword SecurityEvent = "bad_host_password"
)

// RequestAttrs is what a log line may say about the request. Tokens and
// bodies never go in here.
type RequestAttrs struct {
	RequestID string
	Method    string
	Path      string
	IP        string
	// Subject is a party code for hosts and a session ID for listeners.
	Subject string
	Role    string
}

type contextKey string

const requestAttrsKey contextKey = "requestAttrs"

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// Initialize installs the JSON logger as the slog default. The level comes
// from LOGGING_LEVEL (debug, info, warn, error; info otherwise).
func Initialize() {
	level := decodeLogLevel(os.Getenv("LOGGING_LEVEL"))
	slog.SetDefault(slog.New(NewHandler(os.Stdout, level)))
}

// NewHandler returns the JSON handler used by Initialize.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
}

func decodeLogLevel(s string) slog.Level {
	var level slog.Level
	if s == "" || level.UnmarshalText([]byte(s)) != nil {
		return slog.LevelInfo
	}
	return level
}

// replaceAttr renders error values as {msg, trace}.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok {
		a.Value = errorValue(err)
	}
	return a
}

func errorValue(err error) slog.Value {
	attrs := []slog.Attr{slog.String("msg", err.Error())}
	if frames := traceFrames(err); len(frames) > 0 {
		attrs = append(attrs, slog.Any("trace", frames))
	}
	return slog.GroupValue(attrs...)
}

// traceFrames shortens file paths to dir/file.go and functions to pkg.Func.
func traceFrames(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}
	var frames []stackFrame
	for _, f := range trace.Frames() {
		frames = append(frames, stackFrame{
			Func:   filepath.Base(f.Function),
			Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
			Line:   f.Line,
		})
	}
	return frames
}

// WrapError prefixes err with msg and records the caller's stack.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return xerrors.Newf("%s: %v", msg, xerrors.WithStackTrace(err, 1))
}

func WithRequestAttrs(ctx context.Context, attrs *RequestAttrs) context.Context {
	return context.WithValue(ctx, requestAttrsKey, attrs)
}

func GetRequestAttrs(ctx context.Context) *RequestAttrs {
	attrs, _ := ctx.Value(requestAttrsKey).(*RequestAttrs)
	return attrs
}

// UpdateRequestAttrs returns ctx with a copy of its attributes carrying the
// authenticated subject and role.
func UpdateRequestAttrs(ctx context.Context, subject, role string) context.Context {
	var next RequestAttrs
	if attrs := GetRequestAttrs(ctx); attrs != nil {
		next = *attrs
	}
	next.Subject = subject
	next.Role = role
	return WithRequestAttrs(ctx, &next)
}

// RequestFields returns the request attributes in ctx as slog args.
func RequestFields(ctx context.Context) []any {
	attrs := GetRequestAttrs(ctx)
	if attrs == nil {
		return nil
	}

	fields := []any{
		slog.String("method", attrs.Method),
		slog.String("path", attrs.Path),
		slog.String("ip", attrs.IP),
	}
	optional := []struct{ key, value string }{
		{"request_id", attrs.RequestID},
		{"subject", attrs.Subject},
		{"role", attrs.Role},
	}
	for _, o := range optional {
		if o.value != "" {
			fields = append(fields, slog.String(o.key, o.value))
		}
	}
	return fields
}

// ExtractClientIP returns X-Real-IP, which the real IP middleware resolves
// for every request, or else the peer address. X-Forwarded-For is not read
// here.
func ExtractClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LogSecurityEvent logs a WARN line tagged with the event.
func LogSecurityEvent(ctx context.Context, event SecurityEvent, msg string) {
	fields := append(RequestFields(ctx), slog.String("security_event", string(event)))
	slog.WarnContext(ctx, msg, fields...)
}

// LogErrorWithStatus logs an ERROR line for a failed response.
func LogErrorWithStatus(ctx context.Context, status int, msg string, err error) {
	fields := append(RequestFields(ctx), slog.Int("status", status))
	if err != nil {
		fields = append(fields, slog.Any("error", err))
	}
	slog.ErrorContext(ctx, msg, fields...)
}
