// Package scheduler keeps the registry of named tasks.
//
// Schedule strings are parsed into one of three policies (fixed interval,
// cron, absolute fire times) and each task is built with dispatch.New. The
// registry owns one cancel func per task: adding a task under an existing
// name cancels the old loop before the new one is dispatched.
package scheduler
