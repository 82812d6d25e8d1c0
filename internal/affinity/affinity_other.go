//go:build !linux

// File: internal/affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import "fmt"

// pinPlatform is unsupported outside Linux: it pins nothing and always
// returns an error, so -pin-cpu leaves the thread unpinned there.
func pinPlatform(cpuID int) error {
	return fmt.Errorf("affinity: CPU pinning is not supported on this platform")
}
