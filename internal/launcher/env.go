package launcher

import (
	"fmt"
	"os"
	"strconv"

	"github.com/corralhq/corral/internal/daemon"
)

// buildEnv merges spec.EnvOverrides over a stripped parent environment
// (only PATH passed through, per spec.md §4.3), plus the automatically
// injected CORRAL_* variables.
func buildEnv(spec daemon.DaemonSpec, retryCount, port int) []string {
	env := []string{}
	if path, ok := os.LookupEnv("PATH"); ok {
		env = append(env, "PATH="+path)
	}
	for k, v := range spec.EnvOverrides {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"CORRAL_DAEMON_ID="+spec.ID.String(),
		"CORRAL_DAEMON_NAMESPACE="+spec.ID.Namespace,
		"CORRAL_DAEMON_NAME="+spec.ID.Name,
		"CORRAL_RETRY_COUNT="+strconv.Itoa(retryCount),
	)
	if port != 0 {
		env = append(env, "PORT="+strconv.Itoa(port))
	}
	return env
}

// InjectedEnv returns the auto-injected variable set as a map, for
// callers (hooks) that need to extend it rather than build a child's
// full environment.
func InjectedEnv(spec daemon.DaemonSpec, retryCount int) map[string]string {
	return map[string]string{
		"CORRAL_DAEMON_ID":        spec.ID.String(),
		"CORRAL_DAEMON_NAMESPACE": spec.ID.Namespace,
		"CORRAL_DAEMON_NAME":      spec.ID.Name,
		"CORRAL_RETRY_COUNT":      fmt.Sprintf("%d", retryCount),
	}
}
