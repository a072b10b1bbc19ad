package actor

import (
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health status of an actor
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthMetrics contains health-related metrics for an actor
type HealthMetrics struct {
	MailboxDepth    int     `json:"mailbox_depth"`
	MailboxCapacity int     `json:"mailbox_capacity"`
	MailboxUsage    float64 `json:"mailbox_usage"` // percentage

	LastActivityTime time.Time     `json:"last_activity_time"`
	StartTime        time.Time     `json:"start_time"`
	Uptime           time.Duration `json:"uptime"`
	Processed        int64         `json:"processed"`

	ErrorCount   int64     `json:"error_count"`
	LastError    time.Time `json:"last_error,omitempty"`
	LastErrorMsg string    `json:"last_error_msg,omitempty"`

	CustomMetrics interface{} `json:"custom_metrics,omitempty"`
}

// HealthReport contains the complete health assessment of an actor
type HealthReport struct {
	ActorID   string        `json:"actor_id"`
	Status    HealthStatus  `json:"status"`
	Metrics   HealthMetrics `json:"metrics"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthCheckRequest asks a running actor for its health report. It is
// answered by the run loop in mailbox order, so a reply also proves the
// mailbox is being drained.
type HealthCheckRequest struct {
	ResponseChan chan HealthCheckResponse
}

func (HealthCheckRequest) Type() string {
	return "HealthCheckRequest"
}

// HealthCheckResponse contains the health assessment of an actor
type HealthCheckResponse struct {
	Report HealthReport
}

// recentErrorWindow is how long an error keeps an actor degraded.
const recentErrorWindow = 5 * time.Minute

// HealthCheckable tracks activity and errors for one mailbox.
type HealthCheckable struct {
	id              string
	mu              sync.RWMutex
	mailbox         chan Message
	startTime       time.Time
	lastActivity    time.Time
	processed       int64
	errorCount      int64
	lastError       time.Time
	lastErrorMsg    string
	metricsProvider func() interface{}
}

// NewHealthCheckable creates a new health checkable component
func NewHealthCheckable(id string, mailbox chan Message, metricsProvider func() interface{}) *HealthCheckable {
	now := time.Now()
	return &HealthCheckable{
		id:              id,
		mailbox:         mailbox,
		startTime:       now,
		lastActivity:    now,
		metricsProvider: metricsProvider,
	}
}

// SetMetricsProvider installs a callback whose result is reported as CustomMetrics.
func (h *HealthCheckable) SetMetricsProvider(fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metricsProvider = fn
}

// GetHealthMetrics returns current health metrics
func (h *HealthCheckable) GetHealthMetrics() HealthMetrics {
	h.mu.RLock()
	provider := h.metricsProvider
	metrics := HealthMetrics{
		MailboxDepth:     len(h.mailbox),
		MailboxCapacity:  cap(h.mailbox),
		LastActivityTime: h.lastActivity,
		StartTime:        h.startTime,
		Uptime:           time.Since(h.startTime),
		Processed:        h.processed,
		ErrorCount:       h.errorCount,
		LastError:        h.lastError,
		LastErrorMsg:     h.lastErrorMsg,
	}
	h.mu.RUnlock()

	if metrics.MailboxCapacity > 0 {
		metrics.MailboxUsage = float64(metrics.MailboxDepth) / float64(metrics.MailboxCapacity) * 100
	}
	if provider != nil {
		metrics.CustomMetrics = provider()
	}
	return metrics
}

// RecordActivity updates the last activity timestamp
func (h *HealthCheckable) RecordActivity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = time.Now()
}

// RecordProcessed counts one handled message.
func (h *HealthCheckable) RecordProcessed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processed++
}

// RecordError records an error occurrence
func (h *HealthCheckable) RecordError(err error) {
	if err == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
	h.lastError = time.Now()
	h.lastErrorMsg = err.Error()
}

// GenerateHealthReport creates a complete health report. A nearly full
// mailbox or a recent error degrades the actor; both together make it
// unhealthy.
func (h *HealthCheckable) GenerateHealthReport() HealthReport {
	metrics := h.GetHealthMetrics()

	var issues []string
	if metrics.MailboxUsage > 90 {
		issues = append(issues, fmt.Sprintf("high mailbox usage (%.1f%%)", metrics.MailboxUsage))
	}
	if !metrics.LastError.IsZero() && time.Since(metrics.LastError) < recentErrorWindow {
		issues = append(issues, fmt.Sprintf("recent error: %s", metrics.LastErrorMsg))
	}

	report := HealthReport{
		ActorID:   h.id,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}
	switch len(issues) {
	case 0:
		report.Status = HealthStatusHealthy
		report.Message = "Actor is operating normally"
	case 1:
		report.Status = HealthStatusDegraded
		report.Message = fmt.Sprintf("Actor has performance concerns: %v", issues)
	default:
		report.Status = HealthStatusUnhealthy
		report.Message = fmt.Sprintf("Actor has multiple issues: %v", issues)
	}
	return report
}
