// Package policy holds the scheduling policies driven by the dispatch loop.
//
// AbsoluteTime fires at registered times of day, each recurring by a fixed
// interval. FixedInterval fires immediately and then every interval. Cron
// fires on the activations of a cron expression.
package policy
