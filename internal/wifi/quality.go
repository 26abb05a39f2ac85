package wifi

// qualityBands maps signal strength to a percentage in fixed steps. The
// break points follow the usual client OS bar mapping; only the ordering
// matters to callers.
var qualityBands = []struct {
	minDBm  int
	quality int
}{
	{-50, 100},
	{-60, 80},
	{-67, 60},
	{-75, 40},
	{-85, 20},
}

// Quality converts an RSSI in dBm to a signal quality of 0, 20, 40, 60, 80
// or 100. It never decreases as rssi increases.
func Quality(rssi int) int {
	for _, b := range qualityBands {
		if rssi >= b.minDBm {
			return b.quality
		}
	}
	return 0
}
