package jensen

const (
	healthyThreshold = 0.05
	warningThreshold = 0.10
)

// deriveHealth computes the health tag from spec.md §4.7's thresholds.
// connected=false overrides everything to "disconnected".
func deriveHealth(stats ConnectionStatsSnapshot, connected bool) string {
	if !connected {
		return "disconnected"
	}
	rate := stats.ErrorRate()
	switch {
	case rate <= healthyThreshold:
		return "healthy"
	case rate <= warningThreshold:
		return "warning"
	default:
		return "error"
	}
}
