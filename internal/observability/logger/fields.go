package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP fields

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }
func UserAgent(v string) zap.Field { return zap.String("user_agent", v) }

// Domain fields

func UserID(v string) zap.Field    { return zap.String("user_id", v) }
func TicketID(v string) zap.Field  { return zap.String("ticket_id", v) }
func ContentID(v string) zap.Field { return zap.String("content_id", v) }
func LimitType(v string) zap.Field { return zap.String("limit_type", v) }
func Reason(v string) zap.Field    { return zap.String("reason", v) }
func Severity(v string) zap.Field  { return zap.String("severity", v) }
func EventType(v string) zap.Field { return zap.String("event_type", v) }
func Role(v string) zap.Field      { return zap.String("role", v) }

// System fields

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

// Generic fields

func Count(v int) zap.Field               { return zap.Int("count", v) }
func ID(v string) zap.Field               { return zap.String("id", v) }
func Key(v string) zap.Field              { return zap.String("key", v) }
func Duration(v time.Duration) zap.Field  { return zap.Duration("duration", v) }
func String(key, v string) zap.Field      { return zap.String(key, v) }
func Int(key string, v int) zap.Field     { return zap.Int(key, v) }
func Int64(key string, v int64) zap.Field { return zap.Int64(key, v) }
func Bool(key string, v bool) zap.Field   { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field     { return zap.Any(key, v) }
