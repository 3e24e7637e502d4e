// Package httpapi exposes the lending ledger over HTTP.
//
// Borrow and return requests are retried here when they lose an optimistic concurrency race,
// so the engine itself stays free of retry policy. The caller identity is taken from the
// X-Actor header and ends up in the audit trail.
package httpapi
