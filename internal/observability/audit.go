// File: internal/observability/audit.go
package observability

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/cua-tester/internal/config"
)

// AuditLoggerName is the logger name every audit record carries.
const AuditLoggerName = "ai-communication"

// Audit record types.
const (
	AuditInitialization = "initialization"
	AuditRequest        = "request"
	AuditResponse       = "response"
	AuditScreenshot     = "screenshot"
	AuditUserMessage    = "user_message"
	AuditFunctionOutput = "function_call_output"
)

// AuditLogger is an append-only record of the traffic with the computer-use
// model. Image payloads never reach it; callers pass redacted bodies and
// screenshot metadata only.
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger builds the audit sink. With a log file configured, records
// go to a rotated JSON file; otherwise they are written to console.
func NewAuditLogger(cfg config.AuditConfig, console zapcore.WriteSyncer) *AuditLogger {
	if !cfg.Enabled {
		return &AuditLogger{logger: zap.NewNop()}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var core zapcore.Core
	if cfg.LogFile != "" {
		w := rotation{
			filename:   cfg.LogFile,
			maxSize:    cfg.MaxSize,
			maxBackups: cfg.MaxBackups,
			maxAge:     cfg.MaxAge,
			compress:   cfg.Compress,
		}.writer()
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), w, parseLevel(cfg.Level))
	} else {
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), console, parseLevel(cfg.Level))
	}

	return &AuditLogger{logger: zap.New(core).Named(AuditLoggerName)}
}

// NewAuditLoggerFromZap wraps an existing logger, e.g. a zaptest observer.
func NewAuditLoggerFromZap(l *zap.Logger) *AuditLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuditLogger{logger: l.Named(AuditLoggerName)}
}

func (a *AuditLogger) record(kind string, fields ...zap.Field) {
	if a == nil {
		return
	}
	base := []zap.Field{
		zap.String("type", kind),
		zap.Time("timestamp", time.Now().UTC()),
	}
	a.logger.Info(kind, append(base, fields...)...)
}

// Initialization records the system framing sent on the first turn.
func (a *AuditLogger) Initialization(systemPrompt, taskInstructions string, hasUserContext bool) {
	a.record(AuditInitialization,
		zap.String("systemPrompt", systemPrompt),
		zap.String("userSystemPrompt", taskInstructions),
		zap.Bool("hasUserInfo", hasUserContext),
	)
}

// Request records an outgoing request body.
func (a *AuditLogger) Request(endpoint string, body any) {
	a.record(AuditRequest, zap.String("endpoint", endpoint), zap.Any("request", body))
}

// Response records a reply body.
func (a *AuditLogger) Response(endpoint, responseID string, body any) {
	a.record(AuditResponse,
		zap.String("endpoint", endpoint),
		zap.String("responseId", responseID),
		zap.Any("response", body),
	)
}

// Screenshot records that a screenshot was sent, without its bytes.
func (a *AuditLogger) Screenshot(callID, previousResponseID string, sizeBytes int, hasUserMessage bool) {
	a.record(AuditScreenshot,
		zap.String("callId", callID),
		zap.String("previousResponseId", previousResponseID),
		zap.Int("sizeBytes", sizeBytes),
		zap.Bool("hasUserMessage", hasUserMessage),
	)
}

// UserMessage records a free-text steering message.
func (a *AuditLogger) UserMessage(message string) {
	a.record(AuditUserMessage, zap.String("message", message))
}

// FunctionOutput records a function-style outcome.
func (a *AuditLogger) FunctionOutput(callID, previousResponseID string, output any) {
	a.record(AuditFunctionOutput,
		zap.String("callId", callID),
		zap.String("previousResponseId", previousResponseID),
		zap.Any("output", output),
	)
}

// Sync flushes buffered audit records.
func (a *AuditLogger) Sync() error {
	if a == nil {
		return nil
	}
	return a.logger.Sync()
}
