package hardware

import "github.com/davidsonq/modelforge/internal/log"

// Backend preference when the first choice is not installed. ONNX leads
// because it runs everywhere.
var fallbackOrder = []string{"onnx", "bettertransformer", "openvino"}

// Recommend picks the optimization backend best matched to the detected
// hardware. A CUDA GPU favors bettertransformer, an Intel CPU favors
// openvino, and everything else gets onnx.
func Recommend(info *SystemInfo) string {
	switch {
	case info.HasGPU:
		return "bettertransformer"
	case info.CPUVendor == VendorIntel:
		return "openvino"
	default:
		return "onnx"
	}
}

// RecommendAvailable is Recommend constrained to installed backends. The
// available func reports whether a named backend can actually run here.
func RecommendAvailable(info *SystemInfo, available func(name string) bool) string {
	first := Recommend(info)
	if available == nil || available(first) {
		return first
	}
	for _, name := range fallbackOrder {
		if name == first {
			continue
		}
		if available(name) {
			log.Debug(log.CatHW, "recommended backend unavailable, falling back",
				"wanted", first, "using", name)
			return name
		}
	}
	return first
}
