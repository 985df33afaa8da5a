// Package api serves the bridge's local HTTP endpoints.
//
// Routes:
//
//	GET /metrics             Prometheus exposition (path configurable)
//	GET /api/v1/health       liveness, connection state, queue and audit database
//	GET /api/v1/audit        command audit log, newest first
//
// The health handler reads connection state on the event loop through an
// Executor, so it never races with the connection machine. A stopped loop
// or a failing audit database reports 503.
//
// The audit route answers 503 when the audit log is disabled. Query
// parameters action, task_id and limit map to audit.Filter.
package api
