package models

// Status is the condition of the service or one of its dependencies.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFail     Status = "fail"
)

// Health is the liveness report.
type Health struct {
	Status        Status    `json:"status"`
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	BuildTime     string    `json:"buildTime,omitempty"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Time          Timestamp `json:"time"`
}

// Readiness is always served with 200: a failing routing provider leaves
// trips on supplied routes working.
type Readiness struct {
	Status         Status       `json:"status"`
	Time           Timestamp    `json:"time"`
	ActiveSessions int          `json:"activeSessions"`
	Providers      []Dependency `json:"providers"`
}

// Dependency reports the circuit of one upstream provider.
type Dependency struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Circuit string `json:"circuit"`

	// Counts cover the breaker's current window.
	Requests            uint32 `json:"requests"`
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`

	LastSuccessAt *Timestamp `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp `json:"lastFailureAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}
