package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/transport"
)

const dropBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires the board facade routes on the provided Echo instance.
func Register(e *echo.Echo, overlay *board.Overlay, reorderer *board.Reorderer, graph *board.Graph, stream *transport.Transport, sessions *SessionRegistry, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET("/healthz", healthz())
	e.GET("/api/board", getBoard(overlay, graph, stream))
	e.GET("/api/board/stream", streamBoard(overlay, graph, stream))
	e.POST("/api/board/drop", postDrop(reorderer, logger))
	e.GET("/api/tasks/:id/dependencies", getDependencies(graph))
	e.GET("/api/tasks/:id/dependencies/candidates", getCandidates(graph))
	e.POST("/api/tasks/:id/dependencies", postDependency(graph, logger))
	e.DELETE("/api/tasks/:id/dependencies/:dependsOnId", deleteDependency(graph, logger))
	e.GET("/api/connection", getConnection(stream))
	e.GET("/api/sessions", getSessions(sessions))
}

type columnPayload struct {
	Tasks   []taskPayload `json:"tasks"`
	Blocked int           `json:"blocked"`
}

type taskPayload struct {
	domain.Task
	Blocked bool `json:"blocked"`
	Pending bool `json:"pending,omitempty"`
}

type boardResponse struct {
	Columns    map[domain.Status]columnPayload `json:"columns"`
	Connection connectionResponse              `json:"connection"`
}

type connectionResponse struct {
	State            domain.ConnectionState `json:"state"`
	Attempts         int                    `json:"attempts"`
	LastMessageAgeMs int64                  `json:"lastMessageAgeMs,omitempty"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func renderBoard(overlay *board.Overlay, graph *board.Graph, stream *transport.Transport) boardResponse {
	pending := make(map[string]bool)
	for _, mv := range overlay.PendingMoves() {
		pending[mv.TaskID] = true
	}

	columns := make(map[domain.Status]columnPayload, len(domain.Statuses))
	for status, tasks := range overlay.Columns() {
		col := columnPayload{Tasks: make([]taskPayload, 0, len(tasks))}
		for _, t := range tasks {
			blocked := graph.IsBlocked(t.ID)
			if blocked {
				col.Blocked++
			}
			col.Tasks = append(col.Tasks, taskPayload{
				Task:    t,
				Blocked: blocked,
				Pending: pending[t.ID],
			})
		}
		columns[status] = col
	}
	return boardResponse{
		Columns:    columns,
		Connection: connectionSnapshot(stream),
	}
}

func connectionSnapshot(stream *transport.Transport) connectionResponse {
	resp := connectionResponse{
		State:    stream.State(),
		Attempts: stream.Attempts(),
	}
	if _, at := stream.LastMessage(); !at.IsZero() {
		resp.LastMessageAgeMs = time.Since(at).Milliseconds()
	}
	return resp
}

func getBoard(overlay *board.Overlay, graph *board.Graph, stream *transport.Transport) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, renderBoard(overlay, graph, stream))
	}
}

func postDrop(reorderer *board.Reorderer, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, dropBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var drop board.Drop
		if err := dec.Decode(&drop); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if !drop.SourceColumn.Valid() || !drop.DestColumn.Valid() {
			return c.String(http.StatusBadRequest, "unknown column")
		}
		if err := reorderer.HandleDrop(c.Request().Context(), drop); err != nil {
			logger.WithError(err).WithField("task", drop.TaskID).Error("drop mutation failed")
			return c.String(http.StatusBadGateway, err.Error())
		}
		return c.NoContent(http.StatusAccepted)
	}
}

type dependenciesResponse struct {
	domain.DependencyEdges
	Blocked bool `json:"blocked"`
}

func getDependencies(graph *board.Graph) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		return c.JSON(http.StatusOK, dependenciesResponse{
			DependencyEdges: graph.EdgesFor(id),
			Blocked:         graph.IsBlocked(id),
		})
	}
}

func getCandidates(graph *board.Graph) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, graph.Candidates(c.Param("id")))
	}
}

func postDependency(graph *board.Graph, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, dropBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var body struct {
			DependsOnID string `json:"dependsOnId"`
		}
		if err := dec.Decode(&body); err != nil || body.DependsOnID == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		err := graph.AddEdge(c.Request().Context(), c.Param("id"), body.DependsOnID)
		switch {
		case err == nil:
			return c.NoContent(http.StatusAccepted)
		case errors.Is(err, board.ErrSelfDependency), errors.Is(err, board.ErrDuplicateEdge):
			return c.String(http.StatusBadRequest, err.Error())
		default:
			logger.WithError(err).WithField("task", c.Param("id")).Error("add dependency failed")
			return c.String(http.StatusBadGateway, err.Error())
		}
	}
}

func deleteDependency(graph *board.Graph, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := graph.RemoveEdge(c.Request().Context(), c.Param("id"), c.Param("dependsOnId"))
		if err != nil {
			logger.WithError(err).WithField("task", c.Param("id")).Error("remove dependency failed")
			return c.String(http.StatusBadGateway, err.Error())
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func getConnection(stream *transport.Transport) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, connectionSnapshot(stream))
	}
}

func getSessions(sessions *SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, sessions.All())
	}
}
