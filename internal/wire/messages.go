package wire

// Request type discriminators. Requests form a closed set; unrecognized
// values are a TransportProtocol error.
const (
	ReqListSessions  = "list_sessions"
	ReqLaunch        = "launch"
	ReqAttach        = "attach"
	ReqDetach        = "detach"
	ReqKill          = "kill"
	ReqKillAll       = "kill_all"
	ReqResize        = "resize"
	ReqLogs          = "logs"
	ReqSendInput     = "send_input"
	ReqGetStatus     = "get_status"
	ReqWatchSession  = "watch_session"
)

// Response type discriminators.
const (
	RespSessionList   = "session_list"
	RespLaunched      = "launched"
	RespAttached      = "attached"
	RespDetached      = "detached"
	RespKilled        = "killed"
	RespKilledAll     = "killed_all"
	RespResized       = "resized"
	RespLogData       = "log_data"
	RespInputSent     = "input_sent"
	RespSessionStatus = "session_status"
	RespWatchUpdate   = "watch_update"
	RespError         = "error"
	RespOk            = "ok"
)

// Request is the JSON payload carried in a Control frame from client to
// Node. It is a flat struct over the closed request union; only the fields
// relevant to Type are populated, rather than a heavier tagged-union
// encoding.
type Request struct {
	Type string `json:"type"`

	// Launch
	Command    []string `json:"command,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`

	// Attach / Kill / Resize (in-bridge) / Logs / SendInput / GetStatus / WatchSession
	ID uint32 `json:"id,omitempty"`

	// Attach / WatchSession. Nil means "use the default" (true), matching
	// the original protocol's #[serde(default = true)] on include_history.
	IncludeHistory *bool   `json:"include_history,omitempty"`
	HistoryLines   *uint32 `json:"history_lines,omitempty"`

	// Resize
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`

	// Logs
	Follow bool    `json:"follow,omitempty"`
	Tail   *uint32 `json:"tail,omitempty"`

	// SendInput
	Data []byte `json:"data,omitempty"`
}

// IncludeHistoryOrDefault returns the effective include_history value,
// defaulting to true when the client omitted the field.
func (r *Request) IncludeHistoryOrDefault() bool {
	if r.IncludeHistory == nil {
		return true
	}
	return *r.IncludeHistory
}

// Response is the JSON payload carried in a Control frame from Node to
// client, covering the full closed response union.
type Response struct {
	Type string `json:"type"`

	Sessions []SessionInfo `json:"sessions,omitempty"`
	ID       uint32        `json:"id,omitempty"`
	Count    int           `json:"count,omitempty"`

	// LogData
	LogBytes []byte `json:"data,omitempty"`
	Done     bool   `json:"done,omitempty"`

	// InputSent
	Bytes int `json:"bytes,omitempty"`

	// SessionStatus
	Info       *SessionInfo `json:"info,omitempty"`
	OutputSize uint64       `json:"output_size,omitempty"`

	// WatchUpdate
	Status string  `json:"status,omitempty"`
	Output *[]byte `json:"output,omitempty"`

	// Error
	Message string `json:"message,omitempty"`
}

// SessionInfo is the summarized, wire-safe view of a session.
type SessionInfo struct {
	ID                uint32  `json:"id"`
	Command           string  `json:"command"`
	WorkingDir        string  `json:"working_dir"`
	CreatedAt         string  `json:"created_at"`
	Status            string  `json:"status"`
	Attached          bool    `json:"attached"`
	PID               *int    `json:"pid,omitempty"`
	OutputSizeBytes   *uint64 `json:"output_size_bytes,omitempty"`
	LastOutputSnippet *string `json:"last_output_snippet,omitempty"`
}

// SessionMeta is the persistable projection of a session, written into
// sessions.json. It deliberately excludes everything that cannot survive a
// Node restart: channels, the PTY master, live status beyond the
// last-known value.
type SessionMeta struct {
	ID         uint32 `json:"id"`
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
	CreatedAt  string `json:"created_at"`
	Status     string `json:"status"`
	PID        int    `json:"pid,omitempty"`
}

// SessionsFile is the on-disk shape of sessions.json: the metadata array
// plus a node_boot_id recording which Node incarnation last wrote it, for
// operator debugging.
type SessionsFile struct {
	NodeBootID string        `json:"node_boot_id"`
	Sessions   []SessionMeta `json:"sessions"`
}
