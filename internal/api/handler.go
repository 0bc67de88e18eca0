// Package api exposes the tree service over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/gin-gonic/gin"

	"github.com/forestrie/go-merkleroll/cmt"
	"github.com/forestrie/go-merkleroll/internal/metrics"
	"github.com/forestrie/go-merkleroll/internal/service"
	"github.com/forestrie/go-merkleroll/rollstore"
)

// Defaults are the dimensions used when a create request gives none.
type Defaults struct {
	Depth      int
	BufferSize int
}

// TreeHandler exposes the tree operations.
type TreeHandler struct {
	svc      *service.Service
	log      logger.Logger
	defaults Defaults
}

func NewTreeHandler(svc *service.Service, log logger.Logger, defaults Defaults) *TreeHandler {
	return &TreeHandler{svc: svc, log: log, defaults: defaults}
}

// Register mounts the tree routes on the given router group.
func (h *TreeHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/trees")
	{
		t.POST("", h.Create)
		t.GET("", h.List)
		t.GET("/:id", h.Head)
		t.POST("/:id/append", h.Append)
		t.POST("/:id/leaves/:index", h.SetLeaf)
		t.POST("/:id/fill", h.Fill)
		t.GET("/:id/proof/:index", h.Proof)
		t.GET("/:id/changelog", h.ChangeLog)
		t.GET("/:id/checkpoint", h.Checkpoint)
	}
}

// NewRouter returns an engine serving the api under /api/v1 alongside
// /metrics and /healthz.
func NewRouter(svc *service.Service, log logger.Logger, defaults Defaults) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.PrometheusMiddleware())
	r.GET("/metrics", metrics.Handler())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	NewTreeHandler(svc, log, defaults).Register(r.Group("/api/v1"))
	return r
}

// statusOf maps service and tree errors to http status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrTreeNotFound):
		return http.StatusNotFound
	case errors.Is(err, cmt.ErrCannotAppendEmptyNode),
		errors.Is(err, cmt.ErrLeafIndexOutOfBounds),
		errors.Is(err, cmt.ErrDepthInvalid),
		errors.Is(err, cmt.ErrBufferSizeInvalid),
		errors.Is(err, cmt.ErrRootMismatch),
		errors.Is(err, errNodeEncoding):
		return http.StatusBadRequest
	case errors.Is(err, cmt.ErrTreeFull),
		errors.Is(err, cmt.ErrLeafAlreadyUpdated),
		errors.Is(err, cmt.ErrTreeAlreadyInitialized),
		errors.Is(err, rollstore.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, cmt.ErrInvalidProof):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNoSigner):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (h *TreeHandler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Infof("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseIndex(c *gin.Context) (uint32, bool) {
	idx, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative 32 bit integer"})
		return 0, false
	}
	return uint32(idx), true
}

// Create handles POST /trees.
func (h *TreeHandler) Create(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Depth == 0 {
		req.Depth = h.defaults.Depth
	}
	if req.BufferSize == 0 {
		req.BufferSize = h.defaults.BufferSize
	}
	leaves, err := decodeNodes(req.Leaves)
	if err != nil {
		h.fail(c, err)
		return
	}

	head, err := h.svc.Import(c.Request.Context(), req.Depth, req.BufferSize, leaves)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toHeadResponse(head))
}

// List handles GET /trees.
func (h *TreeHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trees": h.svc.IDs()})
}

// Head handles GET /trees/:id.
func (h *TreeHandler) Head(c *gin.Context) {
	head, err := h.svc.Head(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toHeadResponse(head))
}

// Append handles POST /trees/:id/append.
func (h *TreeHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	leaf, err := decodeNode(req.Leaf)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.svc.Append(c.Request.Context(), c.Param("id"), leaf)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResultResponse(res))
}

// SetLeaf handles POST /trees/:id/leaves/:index.
func (h *TreeHandler) SetLeaf(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	var req setLeafRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sreq := service.SetLeafRequest{Index: index}
	var err error
	if sreq.Root, err = decodeNode(req.Root); err != nil {
		h.fail(c, err)
		return
	}
	if sreq.PreviousLeaf, err = decodeNode(req.PreviousLeaf); err != nil {
		h.fail(c, err)
		return
	}
	if sreq.NewLeaf, err = decodeNode(req.NewLeaf); err != nil {
		h.fail(c, err)
		return
	}
	if sreq.Proof, err = decodeNodes(req.Proof); err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.svc.SetLeaf(c.Request.Context(), c.Param("id"), sreq)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResultResponse(res))
}

// Fill handles POST /trees/:id/fill.
func (h *TreeHandler) Fill(c *gin.Context) {
	var req fillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	freq := service.FillRequest{Index: *req.Index}
	var err error
	if freq.Root, err = decodeNode(req.Root); err != nil {
		h.fail(c, err)
		return
	}
	if freq.Leaf, err = decodeNode(req.Leaf); err != nil {
		h.fail(c, err)
		return
	}
	if freq.Proof, err = decodeNodes(req.Proof); err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.svc.FillEmptyOrAppend(c.Request.Context(), c.Param("id"), freq)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResultResponse(res))
}

// Proof handles GET /trees/:id/proof/:index.
func (h *TreeHandler) Proof(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	p, err := h.svc.Proof(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proofResponse{
		Root:           encodeNode(p.Root),
		Leaf:           encodeNode(p.Leaf),
		Proof:          encodeNodes(p.Proof),
		Index:          p.Index,
		SequenceNumber: p.SequenceNumber,
	})
}

// ChangeLog handles GET /trees/:id/changelog, newest change first.
func (h *TreeHandler) ChangeLog(c *gin.Context) {
	logs, err := h.svc.ChangeLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]changeLogResponse, len(logs))
	for i, cl := range logs {
		out[i] = changeLogResponse{
			Root:  encodeNode(cl.Root),
			Path:  encodeNodes(cl.Path),
			Index: cl.Index,
		}
	}
	c.JSON(http.StatusOK, gin.H{"changelog": out})
}

// Checkpoint handles GET /trees/:id/checkpoint.
func (h *TreeHandler) Checkpoint(c *gin.Context) {
	msg, head, err := h.svc.Checkpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCheckpointResponse(msg, head))
}
