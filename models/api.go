package models

// CommitInfo describes an accepted write.
type CommitInfo struct {
	LastModified int64 `json:"lastModified"`
	Version      int64 `json:"version"`
}

// CalendarResponse is the GET calendar reply.
type CalendarResponse struct {
	Success   bool      `json:"success"`
	Data      *Document `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

// UpdateResponse is the POST calendar reply on success.
type UpdateResponse struct {
	Success      bool   `json:"success"`
	LastModified int64  `json:"lastModified"`
	Version      int64  `json:"version"`
	Message      string `json:"message"`
}

// ErrorResponse is the uniform failure reply for the HTTP surface.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HealthResponse reports process liveness and connected push clients.
type HealthResponse struct {
	Status    string `json:"status"`
	Clients   int    `json:"clients"`
	UptimeSec int64  `json:"uptimeSec"`
	Timestamp int64  `json:"timestamp"`
}

// StatsResponse summarizes the current document.
type StatsResponse struct {
	Events       int   `json:"events"`
	Vacations    int   `json:"vacations"`
	LastModified int64 `json:"lastModified"`
	Version      int64 `json:"version"`
	Clients      int   `json:"clients"`
}
