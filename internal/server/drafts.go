package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
)

func (s *Server) registerDrafts(g *echo.Group) {
	g.POST("/generate", s.generateDraft)
	g.GET("/:id", s.getDraft)
	g.GET("/:id/state", s.draftState)
	g.POST("/:id/accept", s.acceptDraft)
	g.POST("/:id/reject", s.rejectDraft)
	g.GET("/:id/stream", s.streamDraft)
}

type generateDraftRequest struct {
	QueryID string `json:"query_id"`
}

type rejectDraftRequest struct {
	Feedback string `json:"feedback"`
}

// generateDraft starts writing a draft from the reviewed sources.
//
//	@Summary	Generate draft
//	@Tags		drafts
//	@Accept		json
//	@Produce	json
//	@Success	201	{object}	map[string]string
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Router		/api/drafts/generate [post]
func (s *Server) generateDraft(c echo.Context) error {
	var req generateDraftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.QueryID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query_id required")
	}
	ctx, span := tracer.Start(c.Request().Context(), "Server.generateDraft")
	defer span.End()
	span.SetAttributes(attribute.String("query_id", req.QueryID))
	id, err := s.svc.GenerateDraft(ctx, userID(c), req.QueryID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"draft_id": id})
}

func (s *Server) getDraft(c echo.Context) error {
	d, err := s.svc.GetDraft(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) draftState(c echo.Context) error {
	st, err := s.svc.DraftState(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) acceptDraft(c echo.Context) error {
	if err := s.svc.AcceptDraft(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) rejectDraft(c echo.Context) error {
	var req rejectDraftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.svc.RejectDraft(c.Request().Context(), userID(c), c.Param("id"), req.Feedback); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) streamDraft(c echo.Context) error {
	return s.stream(c, s.svc.SubscribeDraft)
}
