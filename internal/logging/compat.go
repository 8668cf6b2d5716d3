package logging

import (
	"bytes"
	"log/slog"
	"strings"
)

// BridgeWriter wraps slog as an io.Writer so stdlib log.Printf calls (from
// dependencies or the http server's ErrorLog) land in the structured log.
// A leading "[CATEGORY] " prefix is lifted into the component field.
type BridgeWriter struct {
	logger    *slog.Logger
	component string
}

// NewBridgeWriter creates a writer that forwards writes to slog.
// The defaultComponent is used when no [CATEGORY] prefix is found.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{
		logger:    Logger(),
		component: defaultComponent,
	}
}

// Write implements io.Writer. Each write is treated as one log line.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := string(bytes.TrimSpace(p))
	if msg == "" {
		return n, nil
	}

	msg = stripLogTimestamp(msg)

	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = strings.ToLower(msg[1:idx])
			msg = msg[idx+2:]
		}
	}

	bw.logger.Info(msg, slog.String("component", canonicalComponent(component)))
	return n, nil
}

// stripLogTimestamp removes the prefix added by the stdlib log flags.
func stripLogTimestamp(s string) string {
	// "2006/01/02 15:04:05 " (log.LstdFlags)
	if len(s) > 20 && s[4] == '/' && s[7] == '/' && s[13] == ':' && s[19] == ' ' {
		return s[20:]
	}
	// "15:04:05.000000 " (log.Ltime|log.Lmicroseconds)
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	// "15:04:05 " (log.Ltime)
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

// canonicalComponent maps known log prefixes to canonical component names.
func canonicalComponent(cat string) string {
	switch cat {
	case "worker", "dispatch", "dispatcher":
		return CompWorker
	case "storage", "store", "opfs":
		return CompStorage
	case "search", "filter":
		return CompSearch
	case "export":
		return CompExport
	case "proc", "processor", "vt":
		return CompProc
	case "web", "http", "ws", "websocket":
		return CompWeb
	case "source", "pty", "follow", "sim":
		return CompSource
	case "catalog", "sqlite":
		return CompCatalog
	default:
		return cat
	}
}
