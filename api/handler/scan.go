package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casescan/cache"
	"github.com/use-agent/casescan/models"
)

// Runner scans one case.
type Runner interface {
	// Defaults fills the unset request fields the way Run would.
	Defaults(req *models.ScanRequest)
	Run(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error)
}

// Scan returns a handler for POST /api/v1/scan.
//
// Orchestration flow:
//  1. Parse & validate request, apply defaults.
//  2. Serve from cache when max_age allows.
//  3. Runner.Run → discovery, classification, PDFs.
//  4. Cache successful responses, return 200.
func Scan(rn Runner, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScanResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		rn.Defaults(&req)

		var cacheKey string
		if cc != nil && req.MaxAge > 0 {
			cacheKey = scanCacheKey(&req)
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				out := *cached
				out.CacheStatus = "hit"
				out.Timing = models.TimingInfo{
					TotalMs: time.Since(totalStart).Milliseconds(),
				}
				c.JSON(http.StatusOK, out)
				return
			}
		}

		resp, err := rn.Run(c.Request.Context(), &req)
		if err != nil {
			respondError(c, resp, err)
			return
		}

		if cacheKey != "" {
			cc.Set(cacheKey, resp)
			out := *resp
			out.CacheStatus = "miss"
			resp = &out
		}
		c.JSON(http.StatusOK, resp)
	}
}

// scanCacheKey covers every request field that changes the outcome.
func scanCacheKey(req *models.ScanRequest) string {
	parts := []string{"mode=" + req.FetchMode, "timeout=" + strconv.Itoa(req.Timeout), "out=" + req.OutputDir}
	for _, r := range req.Categories {
		parts = append(parts, "cat="+r.Name+"\x1f"+r.Slug+"\x1f"+r.Keyword)
	}
	parts = append(parts, "links="+strings.Join(req.Links, "\x1f"))
	return cache.Key(req.CaseID, parts...)
}

// respondError writes resp, or a bare error response when there is none,
// with the HTTP status of err's code.
func respondError(c *gin.Context, resp *models.ScanResponse, err error) {
	scanErr := asScanError(err)
	if resp == nil {
		resp = &models.ScanResponse{}
	}
	resp.Success = false
	if resp.Error == nil {
		resp.Error = scanErr.ToDetail()
	}
	c.JSON(mapErrorToStatus(scanErr), resp)
}

func asScanError(err error) *models.ScanError {
	var scanErr *models.ScanError
	if errors.As(err, &scanErr) {
		return scanErr
	}
	return models.NewScanError(models.ErrCodeInternal, err.Error(), err)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScanError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeFetch, models.ErrCodeRender:
		return http.StatusBadGateway // 502
	case models.ErrCodeBrowserCrash:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
