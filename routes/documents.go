package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rag-content-pipeline/internal/queue"
	"rag-content-pipeline/models"
	"rag-content-pipeline/services"
	"rag-content-pipeline/utils"
)

type registerDocumentRequest struct {
	Title          string                 `json:"title" binding:"required"`
	Category       string                 `json:"category"`
	Text           string                 `json:"text"`
	FilePath       string                 `json:"file_path"`
	ChunkingConfig *models.ChunkingConfig `json:"chunking_config"`
}

func SetupDocumentRoutes(router *gin.Engine, documents services.DocumentStore, chunks services.ChunkStore, client *asynq.Client, defaults models.ChunkingConfig) {
	docs := router.Group("/documents")

	docs.POST("", func(c *gin.Context) {
		var req registerDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid document request", gin.H{"error": err.Error()})
			return
		}
		if req.Text == "" && req.FilePath == "" {
			utils.RespondWithBadRequest(c, "Either text or file_path is required", nil)
			return
		}

		cfg := defaults
		if req.ChunkingConfig != nil {
			cfg = *req.ChunkingConfig
		}
		if err := services.ValidateChunkingConfig(cfg); err != nil {
			utils.RespondWithBadRequest(c, "Invalid chunking configuration", gin.H{"error": err.Error()})
			return
		}

		doc := &models.Document{
			Title:    req.Title,
			Category: req.Category,
			Text:     req.Text,
			FilePath: req.FilePath,
		}
		if err := documents.Create(c.Request.Context(), doc); err != nil {
			utils.RespondWithInternalError(c, "Failed to register document", gin.H{"error": err.Error()})
			return
		}

		task, err := queue.NewIngestTask(doc.ID.Hex(), cfg)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to build ingest task", gin.H{"error": err.Error()})
			return
		}
		if _, err := client.EnqueueContext(c.Request.Context(), task); err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue ingestion", gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"document": doc,
			"message":  "Document registered, ingestion queued",
		})
	})

	docs.GET("", func(c *gin.Context) {
		list, err := documents.List(c.Request.Context(), c.Query("category"))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list documents", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": list, "count": len(list)})
	})

	docs.GET("/:id", func(c *gin.Context) {
		id, ok := parseObjectID(c)
		if !ok {
			return
		}
		doc, err := documents.Get(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	docs.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseObjectID(c)
		if !ok {
			return
		}
		doc, err := documents.Get(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err := chunks.DeleteByDocument(c.Request.Context(), doc.ID.Hex()); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete document chunks", gin.H{"error": err.Error()})
			return
		}
		if err := documents.Delete(c.Request.Context(), doc.ID); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete document", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": doc.ID.Hex()})
	})
}

func parseObjectID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.RespondWithBadRequest(c, "Invalid ID format", nil)
		return primitive.NilObjectID, false
	}
	return id, true
}
