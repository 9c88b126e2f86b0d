package process

import "runtime"

// MemoryUsage returns the heap memory currently in use and the peak
// resident set size of the process, in bytes. Platforms without a peak
// figure report the memory obtained from the OS instead.
func MemoryUsage() (current, peak uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	peak = peakRSS()
	if peak == 0 {
		peak = ms.Sys
	}
	return ms.HeapInuse, peak
}
