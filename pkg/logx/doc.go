// Package logx is bgtaskd's logging layer over zerolog.
//
// The console gets short timestamps and file:line callers, the optional log
// file gets JSON. Task failure warnings go through Limited so a flapping task
// cannot flood either sink.
package logx
