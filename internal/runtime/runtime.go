package runtime

import (
	"context"
	"time"

	"github.com/sheetforge/workbookd/config"
	"golang.org/x/sync/semaphore"
)

// Limits captures the concurrency and workbook guardrails configured for the server.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests    int
	MaxOpenWorkbooks         int
	MaxConcurrentRecalcs     int
	MaxConcurrentScreenshots int
	MaxScreenshotPixelArea   int

	// Payload and row bounds
	MaxPayloadBytes int
	MaxCellsPerOp   int
	PreviewRowLimit int

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
}

// NewLimits initializes Limits with sensible fallbacks when values are unset.
func NewLimits(maxConcurrentRequests, maxOpenWorkbooks int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxOpenWorkbooks <= 0 {
		maxOpenWorkbooks = config.DefaultMaxOpenWorkbooks
	}

	return Limits{
		MaxConcurrentRequests:    maxConcurrentRequests,
		MaxOpenWorkbooks:         maxOpenWorkbooks,
		MaxConcurrentRecalcs:     config.DefaultMaxConcurrentRecalcs,
		MaxConcurrentScreenshots: config.DefaultMaxConcurrentScreenshots,
		MaxScreenshotPixelArea:   config.DefaultMaxScreenshotPixelArea,
		MaxPayloadBytes:          config.DefaultMaxPayloadBytes,
		MaxCellsPerOp:            config.DefaultMaxCellsPerOp,
		PreviewRowLimit:          config.DefaultPreviewRowLimit,
		OperationTimeout:         config.DefaultOperationTimeout,
		AcquireRequestTimeout:    config.DefaultAcquireRequestTimeout,
	}
}

// Controller coordinates runtime semaphores for request, workbook, recalc
// and screenshot guardrails. Lock order (spec §5) when a caller must hold
// more than one: request, then workbook, then recalc/screenshot — callers
// must never acquire in the reverse order, to avoid cross-request
// deadlock under load.
type Controller struct {
	limits              Limits
	requestSemaphore    *semaphore.Weighted
	workbookSemaphore   *semaphore.Weighted
	recalcSemaphore     *semaphore.Weighted
	screenshotSemaphore *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores.
func NewController(limits Limits) *Controller {
	if limits.MaxConcurrentRecalcs <= 0 {
		limits.MaxConcurrentRecalcs = config.DefaultMaxConcurrentRecalcs
	}
	if limits.MaxConcurrentScreenshots <= 0 {
		limits.MaxConcurrentScreenshots = config.DefaultMaxConcurrentScreenshots
	}
	return &Controller{
		limits:              limits,
		requestSemaphore:    semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		workbookSemaphore:   semaphore.NewWeighted(int64(limits.MaxOpenWorkbooks)),
		recalcSemaphore:     semaphore.NewWeighted(int64(limits.MaxConcurrentRecalcs)),
		screenshotSemaphore: semaphore.NewWeighted(int64(limits.MaxConcurrentScreenshots)),
	}
}

// AcquireRequest reserves capacity for an incoming request.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSemaphore.Acquire(ctx, 1)
}

// ReleaseRequest frees previously-acquired request capacity.
func (c *Controller) ReleaseRequest() {
	c.requestSemaphore.Release(1)
}

// AcquireWorkbook reserves an open workbook slot.
func (c *Controller) AcquireWorkbook(ctx context.Context) error {
	return c.workbookSemaphore.Acquire(ctx, 1)
}

// ReleaseWorkbook frees an open workbook slot.
func (c *Controller) ReleaseWorkbook() {
	c.workbookSemaphore.Release(1)
}

// AcquireRecalc reserves one of the bounded recalculation-backend slots.
func (c *Controller) AcquireRecalc(ctx context.Context) error {
	return c.recalcSemaphore.Acquire(ctx, 1)
}

// ReleaseRecalc frees a recalculation slot.
func (c *Controller) ReleaseRecalc() {
	c.recalcSemaphore.Release(1)
}

// AcquireScreenshot reserves the single-permit screenshot renderer slot.
func (c *Controller) AcquireScreenshot(ctx context.Context) error {
	return c.screenshotSemaphore.Acquire(ctx, 1)
}

// ReleaseScreenshot frees the screenshot renderer slot.
func (c *Controller) ReleaseScreenshot() {
	c.screenshotSemaphore.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for telemetry and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
