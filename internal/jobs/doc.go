// Package jobs provides the work functions the daemon schedules: running a
// command, calling an HTTP endpoint and driving a systemd unit.
//
// Each constructor returns a dispatch.WorkFunc. Failures that a retry cannot
// fix (a missing binary, a 4xx response) are wrapped with dispatch.NoRetry.
package jobs
