package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// BetasEstimatedData contains data for BetasEstimated events
type BetasEstimatedData struct {
	Key          string `json:"key"`
	Assets       int    `json:"assets"`
	Estimated    int    `json:"estimated"`
	Failed       int    `json:"failed"`
	Policy       string `json:"policy"`
	Observations int    `json:"observations"`
}

// EventType returns the event type for BetasEstimatedData
func (d *BetasEstimatedData) EventType() EventType {
	return BetasEstimated
}

// BetasCacheInvalidatedData contains data for BetasCacheInvalidated events
type BetasCacheInvalidatedData struct {
	Key string `json:"key,omitempty"` // empty when the whole cache was cleared
}

// EventType returns the event type for BetasCacheInvalidatedData
func (d *BetasCacheInvalidatedData) EventType() EventType {
	return BetasCacheInvalidated
}

// OptimizationCompletedData contains data for OptimizationCompleted events
type OptimizationCompletedData struct {
	RunID         string  `json:"run_id"`
	Status        string  `json:"status"`
	Success       bool    `json:"success"`
	Assets        int     `json:"assets"`
	Iterations    int     `json:"iterations"`
	TrackingError float64 `json:"tracking_error"`
	DurationMs    int64   `json:"duration_ms"`
}

// EventType returns the event type for OptimizationCompletedData
func (d *OptimizationCompletedData) EventType() EventType {
	return OptimizationCompleted
}

// OptimizationFailedData contains data for OptimizationFailed events
type OptimizationFailedData struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// EventType returns the event type for OptimizationFailedData
func (d *OptimizationFailedData) EventType() EventType {
	return OptimizationFailed
}

// PortfolioExportedData contains data for PortfolioExported events
type PortfolioExportedData struct {
	RunID    string `json:"run_id"`
	Rows     int    `json:"rows"`
	Location string `json:"location,omitempty"`
}

// EventType returns the event type for PortfolioExportedData
func (d *PortfolioExportedData) EventType() EventType {
	return PortfolioExported
}

// CacheCleanedData contains data for CacheCleaned events
type CacheCleanedData struct {
	Deleted int64 `json:"deleted"`
}

// EventType returns the event type for CacheCleanedData
func (d *CacheCleanedData) EventType() EventType {
	return CacheCleaned
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
