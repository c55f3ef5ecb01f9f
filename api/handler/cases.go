package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casescan/models"
)

// ArtifactStore reads the latest recorded artifacts of a case.
type ArtifactStore interface {
	Artifacts(ctx context.Context, caseID string) ([]models.Artifact, error)
}

// GetCase returns a handler for GET /api/v1/cases/:id.
func GetCase(st ArtifactStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID := c.Param("id")

		artifacts, err := st.Artifacts(c.Request.Context(), caseID)
		if err != nil {
			scanErr := asScanError(err)
			c.JSON(mapErrorToStatus(scanErr), models.CaseArtifactsResponse{
				CaseID: caseID,
				Error:  scanErr.ToDetail(),
			})
			return
		}
		if len(artifacts) == 0 {
			c.JSON(http.StatusNotFound, models.CaseArtifactsResponse{
				CaseID:    caseID,
				Artifacts: []models.Artifact{},
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "no artifacts recorded for case",
				},
			})
			return
		}

		c.JSON(http.StatusOK, models.CaseArtifactsResponse{
			CaseID:    caseID,
			Artifacts: artifacts,
		})
	}
}
