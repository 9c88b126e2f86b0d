//go:build !unix

package process

// peakRSS is not available on this platform.
func peakRSS() uint64 {
	return 0
}
