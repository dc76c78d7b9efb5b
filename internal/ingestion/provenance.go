package ingestion

import "math"

// provenanceWeight implements the formula DESIGN.md documents for
// `provenance_weight_cache` (§9 Open Question: the source leaves this
// undefined). It saturates toward 1 as an edge is re-asserted more times,
// with a half-life tuned so a handful of re-assertions already carries
// strong weight: 1 - exp(-count/3.0).
func provenanceWeight(count int) float64 {
	return 1 - math.Exp(-float64(count)/3.0)
}
