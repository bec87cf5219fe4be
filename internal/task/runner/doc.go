// Package runner is the scheduling core: it binds a job identity to two
// rotating batch windows (targets and members), fires on a cron schedule and
// feeds the live windows into a task body through the per-key serial queue.
//
// Keys used in the shared registry and queue:
//
//	<job>-targets   targets window
//	<job>-members   members window
//	<job>-<target>  serial queue key for one body
//
// The targets window advances once every target in it has been serviced; the
// members window advances once every static target has been serviced. A
// failing body counts as serviced so one broken target cannot starve the rest.
package runner
