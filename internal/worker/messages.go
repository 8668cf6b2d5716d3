package worker

import (
	"github.com/imwoo90/web-serial-monitor-sub000/internal/export"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/repository"
)

// Request is an inbound message from a client. The set is closed.
type Request interface {
	Command
	requestName() string
}

// NewSession rotates to a fresh session file and deletes the previous one.
type NewSession struct{}

// AppendChunk ingests bytes received from the device.
type AppendChunk struct {
	Chunk []byte
	IsHex bool
}

// AppendLog ingests a locally originated (transmitted) line.
type AppendLog struct {
	Text string
}

// SetLineEnding changes the line boundary convention for later chunks.
type SetLineEnding struct {
	Mode lineproc.LineEnding
}

// SetTimestampState toggles timestamp prefixes for later lines.
type SetTimestampState struct {
	Enabled bool
}

// RequestWindow asks for a slice of visible lines. Client is echoed in
// the answer so a transport can route it back to the asker.
type RequestWindow struct {
	StartLine int
	Count     int
	Client    uint64
}

// Clear truncates the current session.
type Clear struct{}

// SearchLogs replaces the active filter and rescans the log.
type SearchLogs struct {
	Query     string
	MatchCase bool
	UseRegex  bool
	Invert    bool
}

// ExportLogs prepares a streamed export of the current session.
type ExportLogs struct {
	IncludeTimestamp bool
}

func (NewSession) requestName() string        { return "NewSession" }
func (AppendChunk) requestName() string       { return "AppendChunk" }
func (AppendLog) requestName() string         { return "AppendLog" }
func (SetLineEnding) requestName() string     { return "SetLineEnding" }
func (SetTimestampState) requestName() string { return "SetTimestampState" }
func (RequestWindow) requestName() string     { return "RequestWindow" }
func (Clear) requestName() string             { return "Clear" }
func (SearchLogs) requestName() string        { return "SearchLogs" }
func (ExportLogs) requestName() string        { return "ExportLogs" }

// Event is an outbound notification.
type Event interface {
	eventName() string
}

// TotalLines reports the number of visible lines.
type TotalLines struct {
	N int
}

// LogWindow answers a RequestWindow. StartLine and Client echo the
// request.
type LogWindow struct {
	StartLine int
	Client    uint64
	Lines     []repository.WindowLine
}

// ActiveLine carries the row still being received. Text is nil when there
// is nothing to show.
type ActiveLine struct {
	Text *string
}

// ExportReady hands over a prepared export stream. Session names the
// file it reads ("" when in memory).
type ExportReady struct {
	Export  *export.Export
	Session string
}

// Error reports a failed command. Command names the request that failed
// ("" when no request is to blame).
type Error struct {
	Command string
	Message string
}

func (TotalLines) eventName() string  { return "TotalLines" }
func (LogWindow) eventName() string   { return "LogWindow" }
func (ActiveLine) eventName() string  { return "ActiveLine" }
func (ExportReady) eventName() string { return "ExportReady" }
func (Error) eventName() string       { return "Error" }

// EventName returns the wire name of ev.
func EventName(ev Event) string { return ev.eventName() }

// RequestName returns the wire name of req.
func RequestName(req Request) string { return req.requestName() }
