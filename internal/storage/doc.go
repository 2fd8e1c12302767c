// Package storage keeps an append-only history of task run events.
//
// It is an audit sink fed from the event bus; tasks never read it back and
// nothing in it is used to resume work after a restart.
package storage
