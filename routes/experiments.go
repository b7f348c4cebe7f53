package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"rag-content-pipeline/internal/queue"
	"rag-content-pipeline/models"
	"rag-content-pipeline/services"
	"rag-content-pipeline/utils"
)

type createExperimentRequest struct {
	Name                string                `json:"name" binding:"required"`
	ChunkingConfig      models.ChunkingConfig `json:"chunking_config" binding:"required"`
	InstructionVersion  string                `json:"instruction_version"`
	InstructionTemplate string                `json:"instruction_template"`
	TestSetName         string                `json:"test_set_name" binding:"required"`
	Category            string                `json:"category"`
	TopK                int                   `json:"top_k"`
	SimilarityThreshold float64               `json:"similarity_threshold"`
}

type uploadTestSetRequest struct {
	TestSetName string            `json:"test_set_name" binding:"required"`
	Cases       []models.TestCase `json:"cases" binding:"required"`
}

func SetupExperimentRoutes(router *gin.Engine, experiments services.ExperimentStore, analysis *services.AnalysisService, export *services.ExportService, client *asynq.Client) {
	exps := router.Group("/experiments")

	exps.POST("", func(c *gin.Context) {
		var req createExperimentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid experiment request", gin.H{"error": err.Error()})
			return
		}
		if err := services.ValidateChunkingConfig(req.ChunkingConfig); err != nil {
			utils.RespondWithBadRequest(c, "Invalid chunking configuration", gin.H{"error": err.Error()})
			return
		}

		exp := &models.Experiment{
			Name:                req.Name,
			ChunkingConfig:      req.ChunkingConfig,
			InstructionVersion:  req.InstructionVersion,
			InstructionTemplate: req.InstructionTemplate,
			TestSetName:         req.TestSetName,
			Category:            req.Category,
			TopK:                req.TopK,
			SimilarityThreshold: req.SimilarityThreshold,
		}
		if err := experiments.Create(c.Request.Context(), exp); err != nil {
			utils.RespondWithInternalError(c, "Failed to create experiment", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, exp)
	})

	exps.GET("", func(c *gin.Context) {
		status := c.DefaultQuery("status", models.ExperimentCompleted)
		list, err := experiments.ListByStatus(c.Request.Context(), status)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list experiments", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"experiments": list, "count": len(list)})
	})

	exps.GET("/:id", func(c *gin.Context) {
		id, ok := parseObjectID(c)
		if !ok {
			return
		}
		exp, err := experiments.Get(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithNotFound(c, "Experiment not found")
			return
		}
		c.JSON(http.StatusOK, exp)
	})

	exps.GET("/:id/results", func(c *gin.Context) {
		id, ok := parseObjectID(c)
		if !ok {
			return
		}
		results, err := experiments.ResultsFor(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load results", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
	})

	exps.POST("/:id/run", func(c *gin.Context) {
		id, ok := parseObjectID(c)
		if !ok {
			return
		}
		exp, err := experiments.Get(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithNotFound(c, "Experiment not found")
			return
		}
		if exp.Status != models.ExperimentPending {
			utils.RespondWithError(c, http.StatusConflict, "invalid_state",
				"Experiment can only be run from pending status", gin.H{"status": exp.Status})
			return
		}

		task, err := queue.NewEvaluateTask(exp.ID.Hex())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to build evaluation task", gin.H{"error": err.Error()})
			return
		}
		if _, err := client.EnqueueContext(c.Request.Context(), task); err != nil {
			utils.RespondWithInternalError(c, "Failed to enqueue evaluation", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"experiment_id": exp.ID.Hex(), "message": "Evaluation queued"})
	})

	exps.GET("/compare", func(c *gin.Context) {
		completed, err := experiments.ListCompleted(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load experiments", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, analysis.Compare(completed))
	})

	exps.GET("/recommendations", func(c *gin.Context) {
		completed, err := experiments.ListCompleted(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load experiments", gin.H{"error": err.Error()})
			return
		}
		recs := analysis.Recommend(completed)
		c.JSON(http.StatusOK, gin.H{"recommendations": recs, "count": len(recs)})
	})

	exps.GET("/coverage", func(c *gin.Context) {
		// Coverage counts pending and failed cells as unfilled, so it needs
		// every experiment, not just completed ones.
		all, err := allExperiments(c, experiments)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load experiments", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, analysis.Coverage(all))
	})

	exps.GET("/:id/export", func(c *gin.Context) {
		id, ok := parseObjectID(c)
		if !ok {
			return
		}
		buf, filename, err := export.ExportExperiment(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithInternalError(c, "Export failed", gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	})

	exps.GET("/export/comparison", func(c *gin.Context) {
		buf, filename, err := export.ExportComparison(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Export failed", gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	})
}

func SetupTestSetRoutes(router *gin.Engine, experiments services.ExperimentStore) {
	sets := router.Group("/testsets")

	sets.POST("", func(c *gin.Context) {
		var req uploadTestSetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid test set request", gin.H{"error": err.Error()})
			return
		}
		if len(req.Cases) == 0 {
			utils.RespondWithBadRequest(c, "Test set must contain at least one case", nil)
			return
		}

		cases := make([]models.TestCase, 0, len(req.Cases))
		for i, tc := range req.Cases {
			if tc.Question == "" {
				utils.RespondWithBadRequest(c, "Every test case needs a question", gin.H{"case": i})
				return
			}
			tc.TestSetName = req.TestSetName
			cases = append(cases, tc)
		}

		if err := experiments.SaveTestCases(c.Request.Context(), cases); err != nil {
			utils.RespondWithInternalError(c, "Failed to save test set", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"test_set_name": req.TestSetName, "cases": len(cases)})
	})

	sets.GET("", func(c *gin.Context) {
		names, err := experiments.TestSetNames(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list test sets", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"test_sets": names, "count": len(names)})
	})

	sets.GET("/:name", func(c *gin.Context) {
		cases, err := experiments.TestCases(c.Request.Context(), c.Param("name"))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load test set", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"test_set_name": c.Param("name"), "cases": cases, "count": len(cases)})
	})
}

func allExperiments(c *gin.Context, experiments services.ExperimentStore) ([]models.Experiment, error) {
	var all []models.Experiment
	for _, status := range []string{
		models.ExperimentPending,
		models.ExperimentRunning,
		models.ExperimentCompleted,
		models.ExperimentFailed,
	} {
		batch, err := experiments.ListByStatus(c.Request.Context(), status)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}
