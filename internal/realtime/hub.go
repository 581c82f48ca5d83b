package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/promora/beacon/internal/domain"
	"github.com/promora/beacon/internal/metrics"
)

const (
	commandTimeout    = 5 * time.Second
	stopTimeout       = 10 * time.Second
	ticketTimeout     = 5 * time.Second
	cmdChannelSize    = 256
	depthLogWatermark = 200 // 80% of cmdChannelSize
)

// Options bound the hub's timers and queues. Zero values take defaults.
type Options struct {
	// AuthRequired gates the handshake: when false, connections are born
	// authenticated and the grace timer never starts.
	AuthRequired bool
	// AuthGracePeriod is how long a connection may stay unauthenticated.
	AuthGracePeriod time.Duration
	// ClientTimeout is the idle eviction threshold.
	ClientTimeout time.Duration
	// PingInterval is the liveness monitor period.
	PingInterval time.Duration
	// SweepInterval is the cleanup sweeper period.
	SweepInterval time.Duration
	// SendBufferSize is the per-connection outbound queue capacity.
	SendBufferSize int
}

func (o *Options) applyDefaults() {
	if o.AuthGracePeriod <= 0 {
		o.AuthGracePeriod = 30 * time.Second
	}
	if o.ClientTimeout <= 0 {
		o.ClientTimeout = 120 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 60 * time.Second
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 64
	}
}

// TicketConsumer validates and consumes single-use connect tickets. A nil
// consumer means the handshake only echo-matches the out-of-band token.
type TicketConsumer interface {
	Consume(ctx context.Context, token string) (*domain.Ticket, error)
}

// --- Commands ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type attachCmd struct {
	baseHubCmd
	conn       *websocket.Conn
	remoteAddr string
	userAgent  string
	authToken  string
	reply      chan string
}

type inboundCmd struct {
	baseHubCmd
	connID string
	data   []byte
}

type detachCmd struct {
	baseHubCmd
	connID string
}

type writeFailedCmd struct {
	baseHubCmd
	connID string
	err    error
}

type authTimeoutCmd struct {
	baseHubCmd
	connID string
}

type ticketResultCmd struct {
	baseHubCmd
	connID string
	ticket *domain.Ticket
	err    error
}

type publishCmd struct {
	baseHubCmd
	event domain.JobProgressEvent
}

type selectMode int

const (
	selectAll selectMode = iota
	selectUsers
	selectChannel
	selectOwnerClient
)

func (m selectMode) String() string {
	switch m {
	case selectAll:
		return "all"
	case selectUsers:
		return "users"
	case selectChannel:
		return "channel"
	case selectOwnerClient:
		return "owner_client"
	}
	return "unknown"
}

type broadcastCmd struct {
	baseHubCmd
	mode          selectMode
	userIDs       map[string]struct{}
	channel       string
	excludeConnID string
	ownerClientID string
	frameType     string
	payload       any
}

type countCmd struct {
	baseHubCmd
	reply chan int
}

type stopCmd struct{ baseHubCmd }

// --- Hub ---

// Hub is the notification core. One instance is constructed at process
// startup and handed to every collaborator that publishes; task runners only
// ever see the domain.Notifier surface.
type Hub struct {
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	opts    Options
	tickets TicketConsumer

	registry *Registry
	subs     *subscriptionIndex

	done     chan struct{} // closed when the run loop has exited
	stopOnce sync.Once
}

// NewHub creates the hub and starts its actor goroutine.
func NewHub(opts Options, tickets TicketConsumer, clock clockwork.Clock) *Hub {
	opts.applyDefaults()
	h := &Hub{
		cmdCh:    make(chan hubCmd, cmdChannelSize),
		clock:    clock,
		opts:     opts,
		tickets:  tickets,
		registry: newRegistry(),
		subs:     newSubscriptionIndex(),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// post submits a command unless the hub has already exited. The done check
// comes first: the command channel is buffered, so a plain select could still
// accept commands nobody will ever drain.
func (h *Hub) post(cmd hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

// tryPost submits without ever blocking. Used from writer goroutines the hub
// may be waiting on during teardown; a dropped command is recovered by the
// sweeper via the writer's dead flag.
func (h *Hub) tryPost(cmd hubCmd) {
	select {
	case h.cmdCh <- cmd:
	default:
	}
}

// Attach registers an accepted transport and returns its connection ID.
// The authToken is the out-of-band value the client must echo during the
// handshake.
func (h *Hub) Attach(conn *websocket.Conn, remoteAddr, userAgent, authToken string) (string, error) {
	reply := make(chan string, 1)
	if !h.post(attachCmd{conn: conn, remoteAddr: remoteAddr, userAgent: userAgent, authToken: authToken, reply: reply}) {
		return "", domain.ErrHubStopped
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-reply:
		return id, nil
	case <-timer.Chan():
		return "", fmt.Errorf("attach command timed out after %v", commandTimeout)
	}
}

// Inbound hands one raw client frame to the hub. Called from the read pump.
func (h *Hub) Inbound(connID string, data []byte) {
	h.post(inboundCmd{connID: connID, data: data})
}

// Detach reclaims a connection whose read pump has exited.
func (h *Hub) Detach(connID string) {
	h.post(detachCmd{connID: connID})
}

// PublishJobProgress delivers a job progress event to every eligible
// connection owned by the event's client ID. Fire-and-forget: delivery
// failures never reach the publisher.
func (h *Hub) PublishJobProgress(_ context.Context, event domain.JobProgressEvent) {
	h.post(publishCmd{event: event})
}

// BroadcastToAll sends a frame to every eligible connection.
func (h *Hub) BroadcastToAll(frameType string, payload any) {
	h.post(broadcastCmd{mode: selectAll, frameType: frameType, payload: payload})
}

// BroadcastToUsers sends a frame to eligible connections owned by any of userIDs.
func (h *Hub) BroadcastToUsers(userIDs []string, frameType string, payload any) {
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	h.post(broadcastCmd{mode: selectUsers, userIDs: set, frameType: frameType, payload: payload})
}

// BroadcastToChannel sends a frame to eligible subscribers of channel,
// optionally excluding one connection (the relaying sender).
func (h *Hub) BroadcastToChannel(channel, excludeConnID, frameType string, payload any) {
	h.post(broadcastCmd{mode: selectChannel, channel: channel, excludeConnID: excludeConnID, frameType: frameType, payload: payload})
}

// BroadcastToOwnerClient sends a frame to eligible connections scoped to the
// owning client ID.
func (h *Hub) BroadcastToOwnerClient(ownerClientID, frameType string, payload any) {
	h.post(broadcastCmd{mode: selectOwnerClient, ownerClientID: ownerClientID, frameType: frameType, payload: payload})
}

// ConnectionCount returns the registry size, or -1 on timeout.
func (h *Hub) ConnectionCount() int {
	reply := make(chan int, 1)
	if !h.post(countCmd{reply: reply}) {
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-reply:
		return n
	case <-timer.Chan():
		slog.Warn("ConnectionCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop gracefully closes every live connection (code 1000) and shuts the
// hub down. Blocks until the actor goroutine exits or the timeout is hit.
// Safe to call concurrently and more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { h.post(stopCmd{}) })

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
		metrics.HubStopTimeoutsTotal.Inc()
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			metrics.HubPanicsTotal.Inc()
			h.handleStop()
		}
	}()
	defer close(h.done)

	pingTicker := h.clock.NewTicker(h.opts.PingInterval)
	defer pingTicker.Stop()

	sweepTicker := h.clock.NewTicker(h.opts.SweepInterval)
	defer sweepTicker.Stop()

	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case attachCmd:
				h.handleAttach(c)
			case inboundCmd:
				h.handleInbound(c)
			case detachCmd:
				h.teardown(c.connID, false)
			case writeFailedCmd:
				h.handleWriteFailed(c)
			case authTimeoutCmd:
				h.handleAuthTimeout(c)
			case ticketResultCmd:
				h.handleTicketResult(c)
			case publishCmd:
				h.handlePublish(c.event)
			case broadcastCmd:
				h.handleBroadcast(c)
			case countCmd:
				c.reply <- h.registry.Len()
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}

		case <-pingTicker.Chan():
			h.livenessTick()

		case <-sweepTicker.Chan():
			h.sweepTick()

		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > depthLogWatermark {
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}
			h.updateStateGauges()
		}
	}
}

// --- Accept / handshake gate ---

func (h *Hub) handleAttach(c attachCmd) {
	now := h.clock.Now()
	conn := &Connection{
		ID:           uuid.NewString(),
		RemoteAddr:   c.remoteAddr,
		UserAgent:    c.userAgent,
		ConnectedAt:  now,
		LastActiveAt: now,
		State:        StateConnecting,
		Channels:     make(map[string]struct{}),
	}
	connID := conn.ID
	conn.writer = newConnWriter(c.conn, h.clock, h.opts.SendBufferSize, func(err error) {
		h.tryPost(writeFailedCmd{connID: connID, err: err})
	})

	if h.opts.AuthRequired {
		conn.pendingAuthToken = c.authToken
		conn.authTimer = h.clock.AfterFunc(h.opts.AuthGracePeriod, func() {
			h.post(authTimeoutCmd{connID: connID})
		})
	} else {
		conn.setState(StateAuthenticated)
	}

	h.registry.Add(conn)
	metrics.ConnectionsCurrent.Set(float64(h.registry.Len()))

	h.sendFrame(conn, TypeConnection, connectionPayload{
		Message:      "connected",
		ConnectionID: conn.ID,
		RequiresAuth: h.opts.AuthRequired,
	})

	slog.Debug("Connection attached",
		"connection_id", conn.ID,
		"remote_addr", conn.RemoteAddr,
		"requires_auth", h.opts.AuthRequired,
	)
	c.reply <- conn.ID
}

func (h *Hub) handleAuthTimeout(c authTimeoutCmd) {
	conn := h.registry.Get(c.connID)
	if conn == nil || conn.State != StateConnecting {
		return
	}
	metrics.AuthFailuresTotal.WithLabelValues("timeout").Inc()
	h.rejectAuth(conn, "authentication timeout")
}

func (h *Hub) handleAuthenticate(conn *Connection, f authenticateFrame) {
	if !h.opts.AuthRequired || conn.State != StateConnecting || conn.authPending {
		// Re-authentication after success (or while validation is in
		// flight) is ignored.
		return
	}

	if conn.pendingAuthToken == "" || f.Token != conn.pendingAuthToken {
		metrics.AuthFailuresTotal.WithLabelValues("bad_token").Inc()
		h.rejectAuth(conn, "invalid authentication token")
		return
	}

	if h.tickets == nil {
		h.finishAuth(conn, nil)
		return
	}

	// Ticket validation hits Postgres; run it off the loop and feed the
	// result back as a command, so the gate never blocks other handlers.
	// The token already matched, so the grace timer is cancelled here:
	// validation carries its own bound, and a deadline firing mid-lookup
	// would reject a timely client after consuming its single-use ticket.
	conn.cancelAuthTimer()
	conn.authPending = true
	connID := conn.ID
	token := f.Token
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ticketTimeout)
		defer cancel()
		ticket, err := h.tickets.Consume(ctx, token)
		h.post(ticketResultCmd{connID: connID, ticket: ticket, err: err})
	}()
}

func (h *Hub) handleTicketResult(c ticketResultCmd) {
	conn := h.registry.Get(c.connID)
	if conn == nil || conn.State != StateConnecting {
		return
	}
	conn.authPending = false

	if c.err != nil {
		slog.Warn("Connect ticket rejected", "connection_id", conn.ID, "error", c.err)
		metrics.AuthFailuresTotal.WithLabelValues("ticket_invalid").Inc()
		h.rejectAuth(conn, "invalid or expired ticket")
		return
	}
	h.finishAuth(conn, c.ticket)
}

func (h *Hub) finishAuth(conn *Connection, ticket *domain.Ticket) {
	conn.cancelAuthTimer()
	conn.pendingAuthToken = ""
	conn.setState(StateAuthenticated)

	if ticket != nil {
		if conn.OwnerUserID == "" {
			conn.OwnerUserID = ticket.OwnerUserID
		}
		h.subs.SetOwner(conn, ticket.OwnerClientID)
	}

	h.sendFrame(conn, TypeAuthenticated, authenticatedPayload{Success: true})
	slog.Debug("Connection authenticated", "connection_id", conn.ID, "user_id", conn.OwnerUserID)
}

// rejectAuth implements the gate's failure policy: error state, close 4001.
// The registry entry lingers until the read pump detaches or the sweeper
// reclaims it.
func (h *Hub) rejectAuth(conn *Connection, reason string) {
	conn.cancelAuthTimer()
	h.sendFrame(conn, TypeError, errorPayload{Message: reason})
	conn.fail(reason)
	conn.writer.closeWithCode(CloseAuthFailure, reason)
	slog.Info("Connection rejected by handshake gate", "connection_id", conn.ID, "reason", reason)
}

// --- Inbound frames ---

func (h *Hub) handleInbound(c inboundCmd) {
	conn := h.registry.Get(c.connID)
	if conn == nil || conn.State.Terminal() {
		return
	}
	conn.LastActiveAt = h.clock.Now()

	frame, err := decodeFrame(c.data)
	if err != nil {
		metrics.ProtocolErrorsTotal.Inc()
		h.sendFrame(conn, TypeError, errorPayload{Message: "protocol error", Details: err.Error()})
		return
	}
	metrics.FramesInTotal.WithLabelValues(frame.frameType()).Inc()

	if af, ok := frame.(authenticateFrame); ok {
		h.handleAuthenticate(conn, af)
		return
	}

	// Everything but authenticate is rejected while the gate is open.
	if h.opts.AuthRequired && conn.State == StateConnecting {
		h.sendFrame(conn, TypeError, errorPayload{Message: "authentication required"})
		return
	}

	switch f := frame.(type) {
	case identifyFrame:
		if conn.OwnerUserID == "" {
			conn.OwnerUserID = f.UserID
		}
		h.sendFrame(conn, TypeIdentified, identifiedPayload{UserID: conn.OwnerUserID})

	case subscribeFrame:
		h.subs.Join(conn, f.Channel)
		h.subs.SetOwner(conn, f.OwnerClientID)
		if conn.State == StateAuthenticated {
			conn.setState(StateActive)
		}
		h.sendFrame(conn, TypeSubscribed, subscribedPayload{Channel: f.Channel, OwnerClientID: conn.OwnerClientID})

	case unsubscribeFrame:
		h.subs.Leave(conn, f.Channel)
		h.sendFrame(conn, TypeUnsubscribed, unsubscribedPayload{Channel: f.Channel})

	case pingFrame:
		now := h.clock.Now().UnixMilli()
		h.sendFrame(conn, TypePong, pongPayload{Timestamp: now, ServerTime: now, ClientTime: f.Timestamp})

	case relayFrame:
		h.handleBroadcast(broadcastCmd{
			mode:          selectChannel,
			channel:       f.Target,
			excludeConnID: conn.ID,
			frameType:     TypeMessage,
			payload:       relayedPayload{Channel: f.Target, SenderID: conn.ID, Data: f.Data},
		})
	}
}

// --- Delivery ---

func (h *Hub) handleWriteFailed(c writeFailedCmd) {
	conn := h.registry.Get(c.connID)
	if conn == nil {
		return
	}
	metrics.DeliveryFailuresTotal.Inc()
	conn.fail(c.err.Error())
	slog.Warn("Connection write failed", "connection_id", conn.ID, "error", c.err)
}

func (h *Hub) handlePublish(event domain.JobProgressEvent) {
	metrics.ProgressPublishedTotal.WithLabelValues(event.Service, string(event.Status)).Inc()
	n := h.handleBroadcast(broadcastCmd{
		mode:          selectOwnerClient,
		ownerClientID: event.OwnerClientID,
		frameType:     TypeJobProgress,
		payload:       event,
	})
	metrics.ProgressDeliveredTotal.Add(float64(n))
	slog.Debug("Job progress published",
		"job_id", event.JobID,
		"service", event.Service,
		"status", event.Status,
		"owner_client_id", event.OwnerClientID,
		"deliveries", n,
	)
}

// handleBroadcast selects eligible targets and enqueues one serialized frame
// per connection. A failed or lagging connection never aborts the batch.
func (h *Hub) handleBroadcast(c broadcastCmd) int {
	data, err := encodeFrame(c.frameType, c.payload)
	if err != nil {
		slog.Error("Failed to encode broadcast frame", "frame_type", c.frameType, "error", err)
		return 0
	}
	metrics.BroadcastsTotal.WithLabelValues(c.mode.String()).Inc()

	delivered := 0
	for _, conn := range h.selectTargets(c) {
		if h.deliver(conn, c.frameType, data) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) selectTargets(c broadcastCmd) []*Connection {
	var out []*Connection
	appendEligible := func(conn *Connection) {
		if conn.State.Eligible() {
			out = append(out, conn)
		}
	}

	switch c.mode {
	case selectAll:
		for _, conn := range h.registry.All() {
			appendEligible(conn)
		}
	case selectUsers:
		for _, conn := range h.registry.All() {
			if conn.OwnerUserID == "" {
				continue
			}
			if _, ok := c.userIDs[conn.OwnerUserID]; ok {
				appendEligible(conn)
			}
		}
	case selectChannel:
		for _, conn := range h.subs.ByChannel(c.channel) {
			if conn.ID == c.excludeConnID {
				continue
			}
			appendEligible(conn)
		}
	case selectOwnerClient:
		for _, conn := range h.subs.ByOwner(c.ownerClientID) {
			appendEligible(conn)
		}
	}
	return out
}

// deliver enqueues an already-serialized frame on one connection. Successful
// application sends refresh LastActiveAt; liveness pings do not, otherwise
// idle clients would never age out.
func (h *Hub) deliver(conn *Connection, frameType string, data []byte) bool {
	dropped, ok := conn.writer.enqueue(data)
	if dropped > 0 {
		metrics.DroppedFramesTotal.Add(float64(dropped))
		slog.Warn("Connection lagging, dropped oldest queued frames",
			"connection_id", conn.ID,
			"dropped", dropped,
		)
	}
	if !ok {
		return false
	}
	metrics.FramesOutTotal.WithLabelValues(frameType).Inc()
	if frameType != TypePing {
		conn.LastActiveAt = h.clock.Now()
	}
	return true
}

// sendFrame serializes and delivers a single frame to one connection.
func (h *Hub) sendFrame(conn *Connection, frameType string, payload any) {
	data, err := encodeFrame(frameType, payload)
	if err != nil {
		slog.Error("Failed to encode frame", "frame_type", frameType, "error", err)
		return
	}
	h.deliver(conn, frameType, data)
}

// --- Liveness monitor ---

// livenessTick evicts idle connections and pings the rest. The timeout is
// based on any observed inbound or outbound application activity, not on
// pong receipt.
func (h *Hub) livenessTick() {
	now := h.clock.Now()
	serverTime := now.UnixMilli()

	for _, conn := range h.registry.All() {
		if conn.State.Terminal() {
			continue
		}
		if now.Sub(conn.LastActiveAt) > h.opts.ClientTimeout {
			metrics.IdleDisconnectsTotal.Inc()
			conn.setState(StateClosing)
			conn.writer.closeWithCode(websocket.CloseNormalClosure, "idle timeout")
			slog.Info("Idle connection closed",
				"connection_id", conn.ID,
				"idle", now.Sub(conn.LastActiveAt),
			)
			continue
		}
		if conn.State.Eligible() {
			h.sendFrame(conn, TypePing, serverPingPayload{Timestamp: serverTime, ServerTime: serverTime})
		}
	}
}

// --- Cleanup sweeper ---

// sweepTick reclaims connections whose transport is already dead or whose
// state is terminal. This is the backstop that converges the registry to
// transport reality even when a close event was missed.
func (h *Hub) sweepTick() {
	for _, conn := range h.registry.All() {
		if conn.writer.isDead() || conn.State.Terminal() {
			metrics.SweeperEvictionsTotal.Inc()
			h.teardown(conn.ID, true)
		}
	}
}

// teardown removes a connection exactly once: subscriptions, registry entry,
// writer and timers. Safe to call for already-removed IDs.
func (h *Hub) teardown(connID string, swept bool) {
	conn := h.registry.Get(connID)
	if conn == nil {
		return
	}
	if !h.registry.Remove(connID) {
		return
	}

	conn.cancelAuthTimer()
	h.subs.RemoveAll(conn)
	conn.setState(StateClosing)
	conn.writer.stop()

	metrics.ConnectionsCurrent.Set(float64(h.registry.Len()))
	metrics.ConnectionDuration.Observe(h.clock.Since(conn.ConnectedAt).Seconds())

	slog.Debug("Connection removed",
		"connection_id", connID,
		"swept", swept,
		"last_error", conn.LastError,
	)
}

// --- Shutdown ---

func (h *Hub) handleStop() {
	total := h.registry.Len()
	slog.Info("Hub shutting down", "connections", total)

	for _, conn := range h.registry.All() {
		conn.cancelAuthTimer()
		conn.setState(StateClosing)
		conn.writer.closeWithCode(websocket.CloseNormalClosure, "server shutting down")
		h.subs.RemoveAll(conn)
		h.registry.Remove(conn.ID)
	}
	metrics.ConnectionsCurrent.Set(0)

	slog.Info("Hub shutdown complete", "disconnected_connections", total)
}

func (h *Hub) updateStateGauges() {
	counts := make(map[State]int, 5)
	for _, conn := range h.registry.All() {
		counts[conn.State]++
	}
	for _, s := range []State{StateConnecting, StateAuthenticated, StateActive, StateClosing, StateError} {
		metrics.HubConnectionsByState.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
