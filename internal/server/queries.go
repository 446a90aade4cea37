package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vizier/internal/sources"
	"go.opentelemetry.io/otel/attribute"
)

func (s *Server) registerQueries(g *echo.Group) {
	g.POST("", s.createQuery)
	g.GET("/:id", s.getQuery)
	g.POST("/:id/refine", s.refineQuery)
	g.POST("/:id/sources/collect", s.collectSources)
	g.GET("/:id/sources", s.getSources)
	g.POST("/:id/sources/review", s.reviewSources)
	g.GET("/:id/state", s.queryState)
	g.GET("/:id/history", s.queryHistory)
	g.GET("/:id/stream", s.streamQuery)
}

type createQueryRequest struct {
	Query string `json:"query"`
}

type reviewRequest struct {
	Included     []string `json:"included"`
	Excluded     []string `json:"excluded"`
	RerankedURLs []string `json:"reranked_urls"`
}

// createQuery registers a research query.
//
//	@Summary	Create query
//	@Tags		queries
//	@Accept		json
//	@Produce	json
//	@Success	201	{object}	map[string]string
//	@Failure	400	{object}	HTTPError
//	@Router		/api/queries [post]
func (s *Server) createQuery(c echo.Context) error {
	var req createQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx, span := tracer.Start(c.Request().Context(), "Server.createQuery")
	defer span.End()
	id, err := s.svc.CreateQuery(ctx, userID(c), req.Query)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"query_id": id})
}

func (s *Server) getQuery(c echo.Context) error {
	q, err := s.svc.GetQuery(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

// refineQuery runs refinement synchronously.
//
//	@Summary	Refine query
//	@Tags		queries
//	@Produce	json
//	@Param		id	path		string	true	"Query ID"
//	@Success	200	{object}	map[string]string
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Failure	502	{object}	HTTPError
//	@Router		/api/queries/{id}/refine [post]
func (s *Server) refineQuery(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Server.refineQuery")
	defer span.End()
	span.SetAttributes(attribute.String("query_id", c.Param("id")))
	refined, err := s.svc.Refine(ctx, userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"refined_query": refined})
}

// collectSources starts routing, search and rerank in the background.
// Progress is observed on the query stream.
func (s *Server) collectSources(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Server.collectSources")
	defer span.End()
	span.SetAttributes(attribute.String("query_id", c.Param("id")))
	if err := s.svc.CollectSources(ctx, userID(c), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "collecting"})
}

func (s *Server) getSources(c echo.Context) error {
	q, err := s.svc.GetQuery(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"web_sources":     nonNil(q.WebSources),
		"twitter_sources": nonNil(q.TwitterSources),
		"final_sources":   nonNil(q.FinalSources),
	})
}

func (s *Server) reviewSources(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	review := sources.Review{Included: req.Included, Excluded: req.Excluded, RerankedURLs: req.RerankedURLs}
	final, err := s.svc.SubmitReview(c.Request().Context(), userID(c), c.Param("id"), review)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"final_sources": nonNil(final)})
}

func (s *Server) queryState(c echo.Context) error {
	st, err := s.svc.QueryState(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) queryHistory(c echo.Context) error {
	h, err := s.svc.QueryHistory(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": h})
}

func (s *Server) streamQuery(c echo.Context) error {
	return s.stream(c, s.svc.SubscribeQuery)
}

func nonNil(in []sources.Source) []sources.Source {
	if in == nil {
		return []sources.Source{}
	}
	return in
}
