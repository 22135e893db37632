package routes

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/labstack/echo/v4"
)

type ontologyParams struct {
	Name string `param:"name" validate:"required"`
}

type nodeParams struct {
	Name string `param:"name" validate:"required"`
	ID   string `param:"id" validate:"required"`
}

type ontologyResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version,omitempty"`
	Description string         `json:"description,omitempty"`
	License     string         `json:"license,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	Roots       []string       `json:"roots"`
}

type nodeResponse struct {
	ID         common.NodeID     `json:"id"`
	Attributes common.Attributes `json:"attributes"`
	Parents    []string          `json:"parents"`
	Children   []string          `json:"children"`
}

type relativesResponse struct {
	ID    common.NodeID `json:"id"`
	Nodes []string      `json:"nodes"`
}

func ListOntologiesHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	res, err := app.Store.ListOntologies(c.Request().Context())
	if err != nil {
		logger.Error("[API] Failed to list ontologies", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if res == nil {
		res = []store.OntologySummary{}
	}
	return c.JSON(http.StatusOK, res)
}

func GetOntologyHandler(c echo.Context) error {
	params := new(ontologyParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	closure, status, err := loadClosure(c, params.Name)
	if err != nil {
		return c.JSON(status, map[string]string{"error": err.Error()})
	}
	o := closure.Ontology()
	return c.JSON(http.StatusOK, ontologyResponse{
		Name:        o.Metadata.Name,
		Version:     o.Metadata.Version,
		Description: o.Metadata.Description,
		License:     o.Metadata.License,
		Extra:       o.Metadata.Extra,
		Nodes:       o.Len(),
		Edges:       o.EdgeCount(),
		Roots:       common.IDsToStrings(closure.AllRoots()),
	})
}

func GetNodeHandler(c echo.Context) error {
	closure, id, status, err := resolveNode(c)
	if err != nil {
		return c.JSON(status, map[string]string{"error": err.Error()})
	}
	o := closure.Ontology()
	attrs, err := o.Attributes(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Node not found"})
	}
	return c.JSON(http.StatusOK, nodeResponse{
		ID:         id,
		Attributes: attrs,
		Parents:    common.IDsToStrings(o.Parents(id)),
		Children:   common.IDsToStrings(o.Children(id)),
	})
}

// NodeRelativesHandler answers one of the closure queries: ancestors,
// descendants or roots.
func NodeRelativesHandler(query func(*graph.Closure, common.NodeID) ([]common.NodeID, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		closure, id, status, err := resolveNode(c)
		if err != nil {
			return c.JSON(status, map[string]string{"error": err.Error()})
		}
		ids, err := query(closure, id)
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Node not found"})
		}
		return c.JSON(http.StatusOK, relativesResponse{ID: id, Nodes: common.IDsToStrings(ids)})
	}
}

func resolveNode(c echo.Context) (*graph.Closure, common.NodeID, int, error) {
	params := new(nodeParams)
	if err := c.Bind(params); err != nil {
		return nil, common.NodeID{}, http.StatusBadRequest, errors.New("Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return nil, common.NodeID{}, http.StatusBadRequest, errors.New("Invalid request params")
	}
	raw, err := url.PathUnescape(params.ID)
	if err != nil {
		return nil, common.NodeID{}, http.StatusBadRequest, errors.New("Invalid node id")
	}

	closure, status, err := loadClosure(c, params.Name)
	if err != nil {
		return nil, common.NodeID{}, status, err
	}
	o := closure.Ontology()
	id := common.ParseID(raw)
	if !o.Has(id) {
		id = common.StringID(raw)
	}
	if !o.Has(id) {
		return nil, common.NodeID{}, http.StatusNotFound, errors.New("Node not found")
	}
	return closure, id, http.StatusOK, nil
}

func loadClosure(c echo.Context, name string) (*graph.Closure, int, error) {
	app := c.(*middleware.AppContext).App
	closure, err := app.Cache.Get(c.Request().Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusNotFound, errors.New("Ontology not found")
	}
	if err != nil {
		logger.Error("[API] Failed to load ontology", "name", name, "err", err)
		return nil, http.StatusInternalServerError, errors.New("Internal server error")
	}
	return closure, http.StatusOK, nil
}
