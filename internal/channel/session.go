package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawik/hub_link_agent/internal/agentconfig"
	"github.com/lawik/hub_link_agent/internal/agenterr"
	"github.com/lawik/hub_link_agent/internal/auth"
	"github.com/lawik/hub_link_agent/internal/update"
)

const (
	// joinRefValue is the fixed join_ref used for the lifetime of a session.
	joinRefValue = "1"
	joinTimeout  = 30 * time.Second
)

// Config configures one session attempt. Everything here is read-only for
// the lifetime of the session; it is shared by reference and never mutated.
type Config struct {
	Host              string
	Serial            string
	Firmware          agentconfig.Firmware
	DeviceAPIVersion  string
	HeartbeatInterval time.Duration
	Authenticator     auth.Authenticator
	UpdateExecutor    *update.Executor
	Logger            *slog.Logger
}

// Outcome summarizes why a session ended, for the supervisor's backoff and
// logging decisions.
type Outcome struct {
	Err    error
	Joined bool          // whether the join handshake ever completed
	Uptime time.Duration // time spent Joined/Updating before ending
}

// Session owns a single WebSocket connection and drives the state machine of
// One Session is used for exactly one connect attempt; the supervisor
// builds a fresh one per attempt.
type Session struct {
	cfg   Config
	topic string

	conn    *websocket.Conn
	writeMu sync.Mutex
	refs    refCounter

	stateMu sync.Mutex
	state   State

	pendingHeartbeatRef string

	updating     bool
	updateDoneCh chan error
}

// New builds a Session for one connect attempt.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		cfg:   cfg,
		topic: "device:" + cfg.Serial,
		state: StateConnecting,
	}
}

// Run opens the socket, joins the device topic, and services the session
// until it ends (error, cancellation, or protocol/transport failure). It
// never returns a nil-error Outcome on a clean shutdown request -- ctx.Err()
// is reported so the supervisor can distinguish cancellation from failure.
func (s *Session) Run(ctx context.Context) Outcome {
	defer s.setState(StateClosed)

	conn, err := s.dial(ctx)
	if err != nil {
		return Outcome{Err: err}
	}
	s.conn = conn
	defer conn.Close()
	s.setState(StateOpened)

	inbound := make(chan Frame, 8)
	readErrCh := make(chan error, 1)
	go s.readPump(inbound, readErrCh)

	if err := s.join(ctx, inbound, readErrCh); err != nil {
		return Outcome{Err: err}
	}

	joinedAt := time.Now()
	s.setState(StateJoined)
	s.cfg.Logger.Info("channel joined", "topic", s.topic)

	err = s.serve(ctx, inbound, readErrCh)
	return Outcome{Err: err, Joined: true, Uptime: time.Since(joinedAt)}
}

// dial opens the TLS WebSocket using the authenticator's per-attempt material
// ("wss://{host}/device-socket/websocket").
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	const op = "channel.Session.dial"

	result, err := s.cfg.Authenticator.Prepare(ctx, s.cfg.Host, s.cfg.Serial)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  result.TLSConfig,
		HandshakeTimeout: 15 * time.Second,
	}
	if dialer.TLSClientConfig == nil {
		dialer.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	url := fmt.Sprintf("wss://%s/device-socket/websocket", s.cfg.Host)

	var header http.Header
	if result.Headers != nil {
		header = result.Headers
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, agenterr.New(classifyDialErr(err), op, err)
	}
	return conn, nil
}

// classifyDialErr maps a dial failure onto the transport-level error kinds.
func classifyDialErr(err error) agenterr.Kind {
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return agenterr.TlsFailed
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return agenterr.UpgradeFailed
	}
	if strings.Contains(strings.ToLower(err.Error()), "tls") ||
		strings.Contains(strings.ToLower(err.Error()), "certificate") ||
		strings.Contains(strings.ToLower(err.Error()), "x509") {
		return agenterr.TlsFailed
	}
	return agenterr.ConnectFailed
}

// join sends phx_join and waits for the matching phx_reply, driving the
// Opened -> Joining -> Joined transitions.
func (s *Session) join(ctx context.Context, inbound <-chan Frame, readErrCh <-chan error) error {
	const op = "channel.Session.join"
	s.setState(StateJoining)

	payload := s.joinPayload(ctx)
	joinRef := joinRefValue
	if err := s.writeFrame(Frame{
		JoinRef: &joinRef,
		Ref:     &joinRef,
		Topic:   s.topic,
		Event:   joinEvent,
		Payload: payload,
	}); err != nil {
		return agenterr.New(agenterr.ConnectFailed, op, err)
	}

	timeout := time.NewTimer(joinTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return agenterr.New(agenterr.JoinFailed, op, fmt.Errorf("no join reply within %s", joinTimeout))
		case err := <-readErrCh:
			return err
		case frame := <-inbound:
			if frame.Event != replyEvent || frame.Ref == nil || *frame.Ref != joinRef {
				s.cfg.Logger.Debug("ignoring frame before join completed", "event", frame.Event)
				continue
			}
			return s.handleJoinReply(frame.Payload)
		}
	}
}

func (s *Session) handleJoinReply(payload map[string]any) error {
	const op = "channel.Session.join"
	status, _ := payload["status"].(string)

	if replyStatus(status) == replyOK {
		return nil
	}

	reason := replyReason(payload)
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "unauthorized") || strings.Contains(lower, "reject") {
		return agenterr.New(agenterr.AuthRejected, op, fmt.Errorf("join rejected: %s", reason))
	}
	return agenterr.New(agenterr.JoinFailed, op, fmt.Errorf("join failed: status=%q reason=%s", status, reason))
}

func replyReason(payload map[string]any) string {
	resp, ok := payload["response"].(map[string]any)
	if !ok {
		return ""
	}
	if reason, ok := resp["reason"].(string); ok {
		return reason
	}
	return ""
}

// joinPayload builds the join payload.
func (s *Session) joinPayload(ctx context.Context) map[string]any {
	apiVersion := s.cfg.DeviceAPIVersion
	if apiVersion == "" {
		apiVersion = agentconfig.DefaultDeviceAPIVersion
	}

	fwupVersion := ""
	if s.cfg.UpdateExecutor != nil {
		fwupVersion = s.cfg.UpdateExecutor.WriterVersion(ctx)
	}

	return map[string]any{
		"device_api_version":     apiVersion,
		"fwup_version":           fwupVersion,
		"nerves_fw_uuid":         s.cfg.Firmware.UUID,
		"nerves_fw_version":      s.cfg.Firmware.Version,
		"nerves_fw_platform":     s.cfg.Firmware.Platform,
		"nerves_fw_architecture": s.cfg.Firmware.Architecture,
		"nerves_fw_product":      s.cfg.Firmware.Product,
	}
}

// serve is the single cooperative select point merging inbound frames,
// heartbeat ticks, and update-executor completion.
func (s *Session) serve(ctx context.Context, inbound <-chan Frame, readErrCh <-chan error) error {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = agentconfig.DefaultHeartbeatSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrCh:
			return err

		case frame := <-inbound:
			if err := s.dispatch(ctx, frame); err != nil {
				return err
			}

		case <-ticker.C:
			if err := s.tickHeartbeat(); err != nil {
				return err
			}

		case err := <-s.updateDoneCh:
			s.updating = false
			s.setState(StateJoined)
			if err != nil {
				s.cfg.Logger.Warn("update flow ended with error", "error", err)
			}
		}
	}
}

// dispatch implements the per-frame dispatch rules.
func (s *Session) dispatch(ctx context.Context, frame Frame) error {
	const op = "channel.Session.dispatch"

	switch frame.Event {
	case replyEvent:
		if frame.Ref != nil && *frame.Ref == s.pendingHeartbeatRef {
			s.pendingHeartbeatRef = ""
		}
		return nil

	case closeEvent:
		if frame.Topic == s.topic {
			return agenterr.New(agenterr.ProtocolMalformed, op, fmt.Errorf("phx_close received"))
		}
		return nil

	case updateEvent:
		return s.handleUpdateEvent(ctx, frame)

	default:
		s.cfg.Logger.Debug("ignoring unknown event", "event", frame.Event)
		return nil
	}
}

// handleUpdateEvent enforces the at-most-one-PendingUpdate invariant and
// drives the Joined -> Updating transition.
func (s *Session) handleUpdateEvent(ctx context.Context, frame Frame) error {
	if s.updating {
		s.cfg.Logger.Warn("rejecting update event: one already pending")
		return s.Status(ctx, update.StatusRescheduled)
	}
	if s.cfg.UpdateExecutor == nil {
		return nil
	}

	url, _ := frame.Payload["firmware_url"].(string)
	meta, _ := frame.Payload["firmware_meta"].(map[string]any)

	s.updating = true
	s.setState(StateUpdating)
	s.updateDoneCh = make(chan error, 1)

	go func() {
		s.updateDoneCh <- s.cfg.UpdateExecutor.Run(ctx, url, meta, s)
	}()
	return nil
}

// tickHeartbeat implements the heartbeat contract: if the previous
// heartbeat's reply never arrived, the session times out; otherwise a fresh
// heartbeat is sent.
func (s *Session) tickHeartbeat() error {
	const op = "channel.Session.tickHeartbeat"

	if s.pendingHeartbeatRef != "" {
		return agenterr.New(agenterr.HeartbeatTimeout, op, fmt.Errorf("no reply to heartbeat ref %s", s.pendingHeartbeatRef))
	}

	ref := s.refs.Next()
	if err := s.writeFrame(Frame{
		Ref:     &ref,
		Topic:   heartbeatTopic,
		Event:   heartbeatEvent,
		Payload: map[string]any{},
	}); err != nil {
		return agenterr.New(agenterr.ConnectFailed, op, err)
	}
	s.pendingHeartbeatRef = ref
	return nil
}

// Progress implements update.Reporter.
func (s *Session) Progress(_ context.Context, value int) error {
	ref := s.refs.Next()
	return s.writeFrame(Frame{
		Ref:     &ref,
		Topic:   s.topic,
		Event:   progressEvent,
		Payload: map[string]any{"value": value},
	})
}

// Status implements update.Reporter.
func (s *Session) Status(_ context.Context, status string) error {
	ref := s.refs.Next()
	return s.writeFrame(Frame{
		Ref:     &ref,
		Topic:   s.topic,
		Event:   statusEvent,
		Payload: map[string]any{"status": status},
	})
}

// Rebooting sends the acknowledgement-only rebooting message. The core does
// not trigger a reboot itself -- that is left to whatever process wraps it.
func (s *Session) Rebooting() error {
	ref := s.refs.Next()
	return s.writeFrame(Frame{
		Ref:     &ref,
		Topic:   s.topic,
		Event:   rebootEvent,
		Payload: map[string]any{},
	})
}

func (s *Session) writeFrame(f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) readPump(out chan<- Frame, errCh chan<- error) {
	const op = "channel.Session.readPump"
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			errCh <- agenterr.New(agenterr.ConnectFailed, op, err)
			return
		}
		frame, err := Decode(data)
		if err != nil {
			errCh <- err
			return
		}
		out <- frame
	}
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
	s.cfg.Logger.Debug("state transition", "state", state)
}

// State returns the session's current state. Safe for concurrent use.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}
