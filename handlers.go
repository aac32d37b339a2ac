package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

// maxWait caps how long a read may block waiting for new operations.
const maxWait = time.Minute

func (s *server) router() *gin.Engine {
	r := gin.Default()

	v1 := r.Group("/api/v1")
	v1.GET("/documents", s.handleGetDocuments)
	v1.POST("/documents/create", s.handleCreateDocument)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)

	v1.GET("/documents/:id/ops", s.handleReadOps)
	v1.POST("/documents/:id/ops", s.handleWriteOps)
	v1.GET("/documents/:id/socket", s.handleSocket)

	return r
}

/////////////////////////////
/// Document Handlers
/////////////////////////////

func (s *server) handleGetDocuments(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	documents, err := s.catalog.Documents(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list documents")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, documents)
}

func (s *server) handleCreateDocument(c *gin.Context) {
	var r CreateDocRequest
	if err := c.BindJSON(&r); err != nil {
		log.Error().Err(err).Msg("bad request")
		return
	}
	if r.Author == "" {
		r.Author = "Автор"
	}

	initial, err := r.Initial()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	doc, err := s.catalog.CreateDocument(ctx, r.Name, r.Author, initial)
	if err != nil {
		log.Error().Err(err).Msg("error creating document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	log.Info().Str("id", doc.ID).Str("name", doc.Name).Msg("document created")
	c.JSON(http.StatusOK, doc)
}

func (s *server) handleGetDocument(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	doc, ok := s.document(ctx, c)
	if !ok {
		return
	}
	snapshot, version, err := s.opLog(doc.ID).Snapshot(ctx)
	if err != nil {
		log.Error().Err(err).Str("id", doc.ID).Msg("error reading snapshot")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Error().Err(err).Str("id", doc.ID).Msg("error encoding snapshot")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, DocumentResponse{Document: doc, Version: version, Snapshot: data})
}

func (s *server) handleDeleteDocument(c *gin.Context) {
	docID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	err := s.catalog.DeleteDocument(ctx, docID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.AbortWithStatus(http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Str("id", docID).Msg("error deleting document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	s.closeLog(docID)
	c.Status(http.StatusOK)
}

/////////////////////////////
/// Op Log Handlers
/////////////////////////////

func (s *server) handleReadOps(c *gin.Context) {
	version, err := strconv.Atoi(c.DefaultQuery("version", "0"))
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	wait, err := time.ParseDuration(c.DefaultQuery("wait", "0s"))
	if err != nil || wait > maxWait {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5+wait)
	defer cancel()

	doc, ok := s.document(ctx, c)
	if !ok {
		return
	}
	result, err := readOps(ctx, s.opLog(doc.ID), version, limit, wait)
	if err != nil {
		log.Error().Err(err).Str("id", doc.ID).Msg("error reading ops")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if result == nil {
		result = []ops.Operation{}
	}
	c.JSON(http.StatusOK, result)
}

func (s *server) handleWriteOps(c *gin.Context) {
	var r WriteOpsRequest
	if err := c.BindJSON(&r); err != nil {
		log.Error().Err(err).Msg("bad request")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	doc, ok := s.document(ctx, c)
	if !ok {
		return
	}
	if err := s.opLog(doc.ID).Write(ctx, r.Ops); err != nil {
		status, resp := writeError(err)
		log.Warn().Err(err).Str("id", doc.ID).Int("ops", len(r.Ops)).Msg("write rejected")
		c.AbortWithStatusJSON(status, resp)
		return
	}
	c.Status(http.StatusOK)
}

// document loads the document named in the route or aborts with 404.
func (s *server) document(ctx context.Context, c *gin.Context) (database.Document, bool) {
	doc, err := s.catalog.Document(ctx, c.Param("id"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.AbortWithStatus(http.StatusNotFound)
		return doc, false
	case err != nil:
		log.Error().Err(err).Msg("error getting document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return doc, false
	}
	return doc, true
}

func writeError(err error) (int, ErrorResponse) {
	var (
		desync  *ops.ProtocolDesyncError
		invalid *changes.ValidationError
	)
	switch {
	case errors.As(err, &desync):
		return http.StatusConflict, ErrorResponse{Error: desync.Reason, Desync: desync.ID}
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
}
