package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/promora/beacon/internal/metrics"
)

const maxInboundFrameBytes = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser clients connect from the app's own domains; auth happens in-band.
	},
}

// handleWebSocket upgrades the request and runs the read pump. All frame
// handling lives in the hub; this handler only shuttles bytes and enforces
// the connection limits.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	if !s.perIP.AllowRate(ip) {
		metrics.ConnectionsRejected.WithLabelValues("rate_limit").Inc()
		metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		return c.String(http.StatusTooManyRequests, "Connection rate limit exceeded")
	}

	if !s.global.Acquire() {
		metrics.ConnectionsRejected.WithLabelValues("global_limit").Inc()
		metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		return c.String(http.StatusServiceUnavailable, "Server at connection capacity")
	}

	if !s.perIP.Acquire(ip) {
		s.global.Release()
		metrics.ConnectionsRejected.WithLabelValues("ip_limit").Inc()
		metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		return c.String(http.StatusTooManyRequests, "Too many connections from this address")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.global.Release()
		s.perIP.Release(ip)
		metrics.ConnectionsTotal.WithLabelValues("error").Inc()
		slog.Warn("WebSocket upgrade failed", "error", err, "remote_ip", ip)
		return nil
	}

	s.updateConnectionGauges()

	token := c.QueryParam("token")
	userAgent := c.Request().UserAgent()

	connID, err := s.hub.Attach(conn, ip, userAgent, token)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "connection setup failed")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
		s.global.Release()
		s.perIP.Release(ip)
		metrics.ConnectionsTotal.WithLabelValues("error").Inc()
		s.updateConnectionGauges()
		slog.Warn("Failed to attach connection", "error", err, "remote_ip", ip)
		return nil
	}

	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()

	conn.SetReadLimit(maxInboundFrameBytes)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.hub.Inbound(connID, data)
	}

	s.hub.Detach(connID)
	_ = conn.Close()

	s.global.Release()
	s.perIP.Release(ip)
	s.updateConnectionGauges()

	return nil
}

func (s *Server) updateConnectionGauges() {
	metrics.ConnectionCapacity.Set(s.global.CapacityPct())
	metrics.UniqueIPs.Set(float64(s.perIP.UniqueIPs()))
}
