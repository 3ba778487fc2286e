package dispatch

import "time"

// Report is the outcome of one run. Every counter is always present.
type Report struct {
	OK          bool      `json:"ok"`
	DryRun      bool      `json:"dryRun"`
	Mode        Mode      `json:"mode"`
	Sent        int       `json:"sent"`
	WouldSend   int       `json:"wouldSend"`
	Capped      int       `json:"capped"`
	Blocked     int       `json:"blocked"`
	Errors      int       `json:"errors"`
	Remaining   int       `json:"remaining"`
	RateLimited int       `json:"rateLimited"`
	Retries     int       `json:"retries"`
	Timestamp   time.Time `json:"timestamp"`
}

// Counters returns the numeric fields keyed by their JSON names.
func (r *Report) Counters() map[string]int {
	return map[string]int{
		"sent":        r.Sent,
		"wouldSend":   r.WouldSend,
		"capped":      r.Capped,
		"blocked":     r.Blocked,
		"errors":      r.Errors,
		"remaining":   r.Remaining,
		"rateLimited": r.RateLimited,
		"retries":     r.Retries,
	}
}
