package jensen

// capabilityMatrix maps a model tag to the capabilities it supports.
// Supplements spec.md §4.8's bare mention of get_capabilities() with the
// per-model matrix original_source's test_device_interface.py exercises.
var capabilityMatrix = map[string][]Capability{
	"H1": {
		CapFileList, CapDownload, CapDelete, CapFormat, CapHealthMonitoring,
	},
	"H1E": {
		CapFileList, CapDownload, CapDelete, CapFormat, CapRealtimeRecording, CapHealthMonitoring,
	},
	"P1": {
		CapFileList, CapDownload, CapDelete, CapFormat, CapRealtimeRecording, CapHealthMonitoring,
	},
}

// capabilitiesForModel returns the known capabilities for model, or the
// minimal baseline set (file list, download) for an unrecognized model
// rather than an empty set.
func capabilitiesForModel(model string) []Capability {
	if caps, ok := capabilityMatrix[model]; ok {
		out := make([]Capability, len(caps))
		copy(out, caps)
		return out
	}
	return []Capability{CapFileList, CapDownload}
}
