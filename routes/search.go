package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-content-pipeline/models"
	"rag-content-pipeline/services"
	"rag-content-pipeline/utils"
)

func SetupSearchRoutes(router *gin.Engine, retriever *services.RetrieverService) {
	router.POST("/search", func(c *gin.Context) {
		var query models.RetrievalQuery
		if err := c.ShouldBindJSON(&query); err != nil {
			utils.RespondWithBadRequest(c, "Invalid search request", gin.H{"error": err.Error()})
			return
		}

		hits, err := retriever.Search(c.Request.Context(), query)
		if err != nil {
			var nre *services.NoRelevantResultsError
			if errors.As(err, &nre) {
				utils.RespondWithError(c, http.StatusNotFound, "no_relevant_results", nre.Error(), gin.H{
					"available_categories": nre.AvailableCategories,
					"threshold":            nre.Threshold,
				})
				return
			}
			utils.RespondWithInternalError(c, "Search failed", gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"query":   query.Text,
			"results": hits,
			"count":   len(hits),
		})
	})
}
