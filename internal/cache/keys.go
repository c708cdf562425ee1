package cache

import "fmt"

// ReportKey holds the canonical JSON of an incident's latest successful report.
func ReportKey(incidentID int64) string {
	return fmt.Sprintf("report:latest:%d", incidentID)
}

// RateLimitKey counts analyze calls per client within the current window.
func RateLimitKey(clientIP string) string {
	return fmt.Sprintf("ratelimit:analyze:%s", clientIP)
}
