package web

import (
	"encoding/json"
	"fmt"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/lineproc"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/repository"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

// wsClientMessage is an inbound text frame. Fields are shared across
// request types; Type selects which ones are read.
type wsClientMessage struct {
	Type string `json:"type"`

	Chunk []byte `json:"chunk,omitempty"` // base64 on the wire
	IsHex bool   `json:"isHex,omitempty"`

	Text string `json:"text,omitempty"`
	Mode string `json:"mode,omitempty"`

	Enabled *bool `json:"enabled,omitempty"`

	StartLine *int `json:"startLine,omitempty"`
	Count     *int `json:"count,omitempty"`

	Query     string `json:"query,omitempty"`
	MatchCase bool   `json:"matchCase,omitempty"`
	UseRegex  bool   `json:"useRegex,omitempty"`
	Invert    bool   `json:"invert,omitempty"`

	IncludeTimestamp *bool `json:"includeTimestamp,omitempty"`
}

// wsServerMessage is an outbound frame.
type wsServerMessage struct {
	Type string `json:"type"`

	Count *int `json:"count,omitempty"`

	URL              string `json:"url,omitempty"`
	ExportID         string `json:"exportId,omitempty"`
	Size             uint64 `json:"size,omitempty"`
	IncludeTimestamp *bool  `json:"includeTimestamp,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// activeLineMessage always carries text, null when the row is empty.
type activeLineMessage struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

type logWindowMessage struct {
	Type      string                  `json:"type"`
	StartLine int                     `json:"startLine"`
	Lines     []repository.WindowLine `json:"lines"`
}

// decodeRequest maps a text frame onto a worker request.
func decodeRequest(payload []byte) (worker.Request, error) {
	var msg wsClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid json payload: %w", err)
	}

	switch msg.Type {
	case "NewSession":
		return worker.NewSession{}, nil
	case "AppendChunk":
		return worker.AppendChunk{Chunk: msg.Chunk, IsHex: msg.IsHex}, nil
	case "AppendLog":
		return worker.AppendLog{Text: msg.Text}, nil
	case "SetLineEnding":
		mode, err := lineproc.ParseLineEnding(msg.Mode)
		if err != nil {
			return nil, err
		}
		return worker.SetLineEnding{Mode: mode}, nil
	case "SetTimestampState":
		if msg.Enabled == nil {
			return nil, fmt.Errorf("SetTimestampState requires enabled")
		}
		return worker.SetTimestampState{Enabled: *msg.Enabled}, nil
	case "RequestWindow":
		if msg.StartLine == nil || msg.Count == nil {
			return nil, fmt.Errorf("RequestWindow requires startLine and count")
		}
		if *msg.StartLine < 0 || *msg.Count < 0 {
			return nil, fmt.Errorf("RequestWindow bounds must not be negative")
		}
		return worker.RequestWindow{StartLine: *msg.StartLine, Count: *msg.Count}, nil
	case "Clear":
		return worker.Clear{}, nil
	case "SearchLogs":
		return worker.SearchLogs{
			Query:     msg.Query,
			MatchCase: msg.MatchCase,
			UseRegex:  msg.UseRegex,
			Invert:    msg.Invert,
		}, nil
	case "ExportLogs":
		include := true
		if msg.IncludeTimestamp != nil {
			include = *msg.IncludeTimestamp
		}
		return worker.ExportLogs{IncludeTimestamp: include}, nil
	case "":
		return nil, fmt.Errorf("message type is required")
	default:
		return nil, fmt.Errorf("unsupported message type %q", msg.Type)
	}
}

// encodeEvent renders an outbound event. ExportReady needs the id the hub
// registered the stream under.
func encodeEvent(ev worker.Event, exportID string) any {
	name := worker.EventName(ev)
	switch e := ev.(type) {
	case worker.TotalLines:
		n := e.N
		return wsServerMessage{Type: name, Count: &n}
	case worker.LogWindow:
		lines := e.Lines
		if lines == nil {
			lines = []repository.WindowLine{}
		}
		return logWindowMessage{Type: name, StartLine: e.StartLine, Lines: lines}
	case worker.ActiveLine:
		return activeLineMessage{Type: name, Text: e.Text}
	case worker.ExportReady:
		include := e.Export.IncludeTimestamps()
		return wsServerMessage{
			Type:             name,
			URL:              exportPath + exportID,
			ExportID:         exportID,
			Size:             e.Export.Size(),
			IncludeTimestamp: &include,
		}
	case worker.Error:
		return wsServerMessage{Type: name, Code: "COMMAND_FAILED", Message: e.Message}
	default:
		return wsServerMessage{Type: name}
	}
}

func errorMessage(code, message string) wsServerMessage {
	return wsServerMessage{Type: "Error", Code: code, Message: message}
}
