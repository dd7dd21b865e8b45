// Package registry holds the task namespaces and handlers known to a tickr
// process. Tasks are registered explicitly at startup; the registry is then
// passed to the schedule runner, which dispatches through it, and to the
// workers, which look handlers up in it.
package registry
