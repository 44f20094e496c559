package launcher

import (
	"fmt"
	"net"
)

// maxPortBumpAttempts bounds the "increment and retry" loop from
// spec.md §4.3 so a persistently occupied range fails fast.
const maxPortBumpAttempts = 10

// bindTestPort bind-tests port on loopback. If occupied and autoBump is
// true, it increments and retries up to maxPortBumpAttempts times; if
// occupied and autoBump is false, it fails immediately — spawn must not
// proceed past this point on failure (spec.md §4.3).
func bindTestPort(port int, autoBump bool) (int, error) {
	if portAvailable(port) {
		return port, nil
	}
	if !autoBump {
		return 0, fmt.Errorf("port %d is in use and auto_bump_port is false", port)
	}
	for i := 1; i <= maxPortBumpAttempts; i++ {
		candidate := port + i
		if portAvailable(candidate) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("no available port found in range %d-%d", port, port+maxPortBumpAttempts)
}

func portAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
