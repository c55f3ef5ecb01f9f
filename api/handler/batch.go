package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casescan/models"
	"github.com/use-agent/casescan/webhook"
)

// Notifier delivers webhook events.
type Notifier interface {
	DeliverAsync(url, secret string, event *webhook.Event)
}

type batchEntry struct {
	mu  sync.Mutex
	job *models.BatchJob
}

func (e *batchEntry) status() models.BatchStatusResponse {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := make([]*models.ScanResponse, len(e.job.Results))
	copy(results, e.job.Results)
	return models.BatchStatusResponse{
		ID:        e.job.ID,
		Status:    e.job.Status,
		Completed: e.job.Completed,
		Total:     e.job.Total,
		Results:   results,
	}
}

// Batches holds all in-flight and completed batch jobs. Jobs older than one
// hour are expired in the background.
type Batches struct {
	jobs        sync.Map // id -> *batchEntry
	runner      Runner
	notifier    Notifier
	concurrency int
	done        chan struct{}
	once        sync.Once
}

// NewBatches creates a job registry running at most concurrency cases at a
// time per batch. notifier may be nil.
func NewBatches(rn Runner, notifier Notifier, concurrency int) *Batches {
	if concurrency <= 0 {
		concurrency = 1
	}
	b := &Batches{
		runner:      rn,
		notifier:    notifier,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
	go b.expireLoop()
	return b
}

// Stop ends the background expiry.
func (b *Batches) Stop() {
	b.once.Do(func() { close(b.done) })
}

func (b *Batches) expireLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-1 * time.Hour).Unix()
			b.jobs.Range(func(key, value any) bool {
				e := value.(*batchEntry)
				e.mu.Lock()
				expired := e.job.CreatedAt < cutoff
				e.mu.Unlock()
				if expired {
					b.jobs.Delete(key)
				}
				return true
			})
		}
	}
}

// Post returns a handler for POST /api/v1/batch/scan.
// It validates the request, creates a batch job, and scans the cases in
// the background.
func (b *Batches) Post() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "failed",
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		jobID := "batch-" + randomID()
		entry := &batchEntry{job: &models.BatchJob{
			ID:        jobID,
			Status:    "processing",
			Total:     len(req.CaseIDs),
			Results:   make([]*models.ScanResponse, len(req.CaseIDs)),
			CreatedAt: time.Now().Unix(),
		}}
		b.jobs.Store(jobID, entry)

		go b.run(entry, req)

		c.JSON(http.StatusOK, models.BatchResponse{
			ID:     jobID,
			Status: "processing",
			Total:  len(req.CaseIDs),
		})
	}
}

// Get returns a handler for GET /api/v1/batch/:id.
func (b *Batches) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := b.jobs.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "batch job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*batchEntry).status())
	}
}

// run scans every case of a batch with bounded concurrency.
func (b *Batches) run(entry *batchEntry, req models.BatchRequest) {
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	failed := 0

	for i, caseID := range req.CaseIDs {
		wg.Add(1)
		go func(idx int, caseID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp := b.scanOne(caseID, req.Options)

			entry.mu.Lock()
			entry.job.Results[idx] = resp
			entry.job.Completed++
			if !resp.Success {
				failed++
			}
			entry.mu.Unlock()
		}(i, caseID)
	}
	wg.Wait()

	entry.mu.Lock()
	switch {
	case failed == entry.job.Total:
		entry.job.Status = "failed"
	case failed > 0:
		entry.job.Status = "partial"
	default:
		entry.job.Status = "completed"
	}
	entry.mu.Unlock()

	status := entry.status()
	slog.Info("batch job finished",
		"id", status.ID,
		"status", status.Status,
		"failed", failed,
		"total", status.Total,
	)

	if req.WebhookURL != "" && b.notifier != nil {
		b.notifier.DeliverAsync(req.WebhookURL, req.WebhookSecret, &webhook.Event{
			Type:      "batch.completed",
			JobID:     status.ID,
			Timestamp: time.Now().Unix(),
			Data:      status,
		})
	}
}

// scanOne runs one case with the shared batch options.
func (b *Batches) scanOne(caseID string, opts models.BatchOptions) *models.ScanResponse {
	req := &models.ScanRequest{
		CaseID:     caseID,
		Categories: opts.Categories,
		OutputDir:  opts.OutputDir,
		FetchMode:  opts.FetchMode,
		Timeout:    opts.Timeout,
	}

	resp, err := b.runner.Run(context.Background(), req)
	if err == nil {
		return resp
	}
	if resp == nil {
		resp = &models.ScanResponse{CaseID: caseID}
	}
	resp.Success = false
	if resp.Error == nil {
		resp.Error = asScanError(err).ToDetail()
	}
	return resp
}

// randomID generates a short random hex string for job IDs.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
