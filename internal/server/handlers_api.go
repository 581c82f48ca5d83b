package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/promora/beacon/internal/domain"
)

// requireAPIToken guards the ingress endpoints used by task runners and the
// business platform. These are service-to-service calls, so a shared bearer
// token is sufficient.
func (s *Server) requireAPIToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIToken)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing API token"})
		}
		return next(c)
	}
}

type issueTicketRequest struct {
	UserID        string `json:"userId"`
	OwnerClientID string `json:"ownerClientId"`
	TTLSeconds    int    `json:"ttlSeconds"`
}

type issueTicketResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleIssueTicket(c echo.Context) error {
	var req issueTicketRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserID == "" || req.OwnerClientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "userId and ownerClientId are required"})
	}

	ttl := s.config.TicketDefaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	ticket, err := s.app.IssueTicket(c.Request().Context(), req.UserID, req.OwnerClientID, ttl)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to issue ticket"})
	}

	return c.JSON(http.StatusCreated, issueTicketResponse{
		Token:     ticket.Token,
		ExpiresAt: ticket.ExpiresAt,
	})
}

func (s *Server) handlePublishProgress(c echo.Context) error {
	var event domain.JobProgressEvent
	if err := c.Bind(&event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if event.JobID == "" || event.OwnerClientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "jobId and ownerClientId are required"})
	}
	if !event.Status.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown job status"})
	}
	if event.Progress < 0 || event.Progress > 100 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "progress must be between 0 and 100"})
	}

	s.app.PublishJobProgress(c.Request().Context(), event)

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
