package dbtest

import (
	"flag"
	"os"
	"os/signal"
	"testing"
)

// Inspect keeps the database container of a failed test running, so that the
// samples the test recorded can be browsed by hand. Interrupt the test (Ctrl+C)
// when done.
//
// The container is still reaped by the testcontainers library after some time.
// See their documentation for more information.
var Inspect = flag.Bool("dbtest.inspect", false, "keep the database container of a failed test running until interrupted")

// inspectOnFailure registers a cleanup that, if the test failed and Inspect is
// set, logs where to reach the container and blocks until SIGINT.
func inspectOnFailure(tb testing.TB, containerID string, endpoints ...string) {
	tb.Cleanup(func() {
		if !tb.Failed() || !*Inspect {
			return
		}
		tb.Logf("Container %v is still running for inspection (Ctrl+C to terminate)...", containerID)
		for _, e := range endpoints {
			tb.Log(e)
		}

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		defer signal.Stop(c)
		<-c
	})
}
