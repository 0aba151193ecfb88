/*
Package health provides a small, generic check/status mechanism: a
Checker interface returning a Result, and a Status type that applies
hysteresis (N consecutive failures before flipping unhealthy, one
success before flipping back) so a single transient blip doesn't flap
a reported state.

Only TCPChecker is used in this module, as a peer-reachability probe:
pkg/api's readiness handler dials the current Raft leader's address
before reporting itself ready, rather than trusting raft.Leader()'s
cached view without confirming the network path still works.

	checker := health.NewTCPChecker("10.0.0.2:8080").WithTimeout(2 * time.Second)
	result := checker.Check(ctx)
	if !result.Healthy {
		// leader unreachable
	}
*/
package health
