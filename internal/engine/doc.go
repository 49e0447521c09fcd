// Package engine implements the auto-reply rule engine.
//
// The engine receives inbound message deliveries, decides whether a rule
// applies, picks the winning rule and dispatches its reply, immediately or
// after the rule's delay.
//
// ARCHITECTURE:
//
// Message Processing Flow:
//  1. Gates: engine enabled? origin allowed? (Gates, read per message)
//  2. Rules read from rule.Store (no caching, no scheduler lock held)
//  3. Match(): ascending priority, stable, first match wins
//  4. Scheduler.Consider(): dedup per source ID, immediate or timer dispatch
//  5. Gateway.Send(): exactly once per fired reply
//
// Per-Source Reply State:
//
//	none --Consider(delay=0)--> in_flight --ok--> fired
//	none --Consider(delay>0)--> pending --timer--> in_flight --ok--> fired
//	pending --Cancel--> none (never dispatched)
//	in_flight --error--> none (a later delivery may retry)
//	fired --Cancel--> none
//
// The table is owned by the Scheduler and only reachable through Consider,
// Cancel, Reset and the read-only Phase/Pending snapshots.
//
// FAILURE POLICY:
//
// Nothing here escalates to the host. Invalid regex rules never match,
// unreadable rules mean no match, dispatch failures revert the fired mark.
// Failures are logged with log/slog and published on Engine.Errors().
package engine
