package admission

import "math"

// Snapshot is a point-in-time usage report across all providers and keys.
type Snapshot struct {
	Overview map[string]ProviderOverview `json:"overview"`
	Details  map[string]ProviderDetail   `json:"details"`
}

// ProviderOverview aggregates daily request usage across a provider's keys.
type ProviderOverview struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalCapacity   int64   `json:"total_capacity"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// ProviderDetail reports per-key usage plus the provider's configured caps.
type ProviderDetail struct {
	Keys       map[string]KeyUsage `json:"keys"`
	RateLimits Caps                `json:"rate_limits"`
}

// KeyUsage reports one key's daily consumption and live window counts.
type KeyUsage struct {
	Requests         int64        `json:"requests"`
	UsagePercentage  float64      `json:"usage_percentage"`
	RateLimitWindows WindowCounts `json:"rate_limit_windows"`
}

// WindowCounts holds the current request counts in the minute and day windows.
type WindowCounts struct {
	ReqMin int64 `json:"req_min"`
	ReqDay int64 `json:"req_day"`
}

// Snapshot reports current usage for every provider and key. Counts are read
// per key under that key's lock; the report is not a global atomic view.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Overview: make(map[string]ProviderOverview, len(r.names)),
		Details:  make(map[string]ProviderDetail, len(r.names)),
	}
	for _, name := range r.names {
		pk := r.providers[name]
		detail := ProviderDetail{
			Keys:       make(map[string]KeyUsage, len(pk.keys)),
			RateLimits: pk.caps,
		}
		var totalRequests, totalCapacity int64
		for _, k := range pk.keys {
			minuteReqs, dayReqs := k.usage()
			caps := k.Caps()
			detail.Keys[k.ID()] = KeyUsage{
				Requests:        dayReqs,
				UsagePercentage: roundPercent(float64(dayReqs) / float64(caps.MaxRequestDay) * 100),
				RateLimitWindows: WindowCounts{
					ReqMin: minuteReqs,
					ReqDay: dayReqs,
				},
			}
			totalRequests += dayReqs
			totalCapacity += int64(caps.MaxRequestDay)
		}
		snap.Details[name] = detail
		snap.Overview[name] = ProviderOverview{
			TotalRequests:   totalRequests,
			TotalCapacity:   totalCapacity,
			UsagePercentage: roundPercent(float64(totalRequests) / float64(totalCapacity) * 100),
		}
	}
	return snap
}

func roundPercent(v float64) float64 {
	return math.Round(v*100) / 100
}
