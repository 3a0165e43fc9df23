// Package scheduler arms one timer per pending deferred task and fires its
// handler reference when the deadline passes.
//
// The scheduler only triggers. Fires are dispatched onto the task engine,
// which owns retries and timeouts; the ledger row is what makes a task
// survive a restart. Housekeeping (re-arming orphaned rows, audit pruning)
// runs as cron jobs on the same engine.
package scheduler
