// Package harness runs auto-reply scenarios against the real engine.
//
// A scenario seeds a rule set and gate configuration, then drives the engine
// through a list of steps on a manual clock. Every step and every reply the
// engine sends is recorded in a trace, which is checked by assertions and
// compared against golden files.
//
// # Scenario Format
//
//	name: delayed_reply_cancelled
//	description: "A removed source never gets its delayed reply"
//	gates:
//	  enabled: true
//	  allowed_sources: [chat]
//	rules:
//	  - id: later
//	    keyword: hello
//	    reply_message: "Talk soon"
//	    delay_seconds: 5
//	steps:
//	  - message: { source_id: A, text: hello }
//	  - advance: 3s
//	  - remove: A
//	  - advance: 5s
//	assertions:
//	  - type: sent_count
//	    count: 0
//
// Step kinds, exactly one per step:
//   - message: deliver an inbound message (origin defaults to "chat", the
//     reply handle to "reply/<source_id>" unless no_reply_handle is set)
//   - remove: the source disappeared
//   - advance: move the manual clock forward (Go duration syntax)
//   - fail_next: make the next N gateway sends fail
//   - reset: the event source reconnected
//   - set_rules: replace the stored rules
//   - gates: replace the gate configuration
//
// Rules are written to the store as given, without write-time validation,
// so a scenario can carry a pattern that no longer compiles.
//
// # Assertions
//
//   - sent_count: number of replies delivered
//   - sent: a reply with the given reply_to and/or text was delivered
//   - outcome: the message at step N had the given outcome
//   - phase: the reply phase of a source when the scenario ends
//   - error_count: number of runtime errors with the given code
//   - pending_count: number of replies still scheduled at the end
//
// # Golden Files
//
// RunWithGolden stores the trace under testdata/golden/{name}.golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
