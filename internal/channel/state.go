package channel

// State is a node in the per-connection state machine.
type State string

const (
	StateConnecting State = "connecting"
	StateOpened     State = "opened"
	StateJoining    State = "joining"
	StateJoined     State = "joined"
	StateUpdating   State = "updating"
	StateClosed     State = "closed"
)

const (
	joinEvent    = "phx_join"
	replyEvent   = "phx_reply"
	closeEvent   = "phx_close"
	updateEvent  = "update"
	heartbeatTopic = "phoenix"
	heartbeatEvent = "heartbeat"

	progressEvent = "fwup_progress"
	statusEvent   = "status_update"
	rebootEvent   = "rebooting"
)

// replyStatus mirrors the "status" field of a phx_reply payload.
type replyStatus string

const (
	replyOK    replyStatus = "ok"
	replyError replyStatus = "error"
)
