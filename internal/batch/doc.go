// Package batch runs multi-item create, update and deprecate operations
// against a store inside a single transaction.
//
// Every operation moves through the same states:
//
//	validating -> executing -> committing -> completed | rolled_back
//
// A request rejected before any transaction is opened ends in rejected.
// Validation and per-item failures are reported inside the returned Result;
// only transaction and cancellation failures are returned as errors.
// Cancellation is checked before each item and always rolls back.
package batch
