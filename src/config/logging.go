package config

import (
	"path/filepath"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Logging configures the log sinks and the per-subsystem taps that gate the
// chattier log statements.
type Logging struct {
	LedgerLogging           bool
	LedgerDuplicateLogging  bool
	VoteLogging             bool
	NetworkLogging          bool
	NetworkMessageLogging   bool
	NetworkPublishLogging   bool
	NetworkPacketLogging    bool
	NetworkKeepaliveLogging bool
	NodeLifetimeTracing     bool
	InsufficientWorkLogging bool
	LogToCerr               bool
	MaxSize                 uint64
	Level                   string

	logger *logrus.Logger
}

// NewDefaultLogging returns the default logging configuration.
func NewDefaultLogging() Logging {
	return Logging{
		LedgerLogging:           false,
		LedgerDuplicateLogging:  false,
		VoteLogging:             false,
		NetworkLogging:          true,
		NetworkMessageLogging:   false,
		NetworkPublishLogging:   false,
		NetworkPacketLogging:    false,
		NetworkKeepaliveLogging: false,
		NodeLifetimeTracing:     false,
		InsufficientWorkLogging: true,
		LogToCerr:               false,
		MaxSize:                 16 * 1024 * 1024,
		Level:                   DefaultLogLevel,
	}
}

type loggingJSON struct {
	Ledger           bool   `json:"ledger"`
	LedgerDuplicate  bool   `json:"ledger_duplicate"`
	Vote             bool   `json:"vote"`
	Network          bool   `json:"network"`
	NetworkMessage   bool   `json:"network_message"`
	NetworkPublish   bool   `json:"network_publish"`
	NetworkPacket    bool   `json:"network_packet"`
	NetworkKeepalive bool   `json:"network_keepalive"`
	NodeLifetime     bool   `json:"node_lifetime"`
	InsufficientWork bool   `json:"insufficient_work"`
	LogToCerr        bool   `json:"log_to_cerr"`
	MaxSize          uint64 `json:"max_size"`
	Level            string `json:"level"`
}

func (l *Logging) toJSON() loggingJSON {
	return loggingJSON{
		Ledger:           l.LedgerLogging,
		LedgerDuplicate:  l.LedgerDuplicateLogging,
		Vote:             l.VoteLogging,
		Network:          l.NetworkLogging,
		NetworkMessage:   l.NetworkMessageLogging,
		NetworkPublish:   l.NetworkPublishLogging,
		NetworkPacket:    l.NetworkPacketLogging,
		NetworkKeepalive: l.NetworkKeepaliveLogging,
		NodeLifetime:     l.NodeLifetimeTracing,
		InsufficientWork: l.InsufficientWorkLogging,
		LogToCerr:        l.LogToCerr,
		MaxSize:          l.MaxSize,
		Level:            l.Level,
	}
}

func (l *Logging) fromJSON(j loggingJSON) {
	l.LedgerLogging = j.Ledger
	l.LedgerDuplicateLogging = j.LedgerDuplicate
	l.VoteLogging = j.Vote
	l.NetworkLogging = j.Network
	l.NetworkMessageLogging = j.NetworkMessage
	l.NetworkPublishLogging = j.NetworkPublish
	l.NetworkPacketLogging = j.NetworkPacket
	l.NetworkKeepaliveLogging = j.NetworkKeepalive
	l.NodeLifetimeTracing = j.NodeLifetime
	l.InsufficientWorkLogging = j.InsufficientWork
	l.LogToCerr = j.LogToCerr
	l.MaxSize = j.MaxSize
	l.Level = j.Level
}

// SetLogger overrides the logger, primarily for routing output through a
// test adapter.
func (l *Logging) SetLogger(logger *logrus.Logger) {
	l.logger = logger
}

// Logger returns the configured logrus logger, building it on first use. A
// file hook writes everything to node.log in the data directory; stderr
// output is gated by LogToCerr.
func (l *Logging) Logger(dataDir string) *logrus.Logger {
	if l.logger == nil {
		logger := logrus.New()
		logger.Level = LogLevel(l.Level)
		logger.Formatter = new(prefixed.TextFormatter)

		if dataDir != "" {
			logger.AddHook(lfshook.NewHook(
				filepath.Join(dataDir, "node.log"),
				&logrus.JSONFormatter{},
			))
		}

		if !l.LogToCerr {
			logger.SetOutput(nullWriter{})
		}

		l.logger = logger
	}
	return l.logger
}

// Entry returns a formatted logrus Entry with the given prefix.
func (l *Logging) Entry(dataDir, prefix string) *logrus.Entry {
	return l.Logger(dataDir).WithField("prefix", prefix)
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// LogLevel parses a string into a logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
