// Package harness runs reconciliation scenarios end to end.
//
// A scenario drives the real engine, repository, and transport against an
// in-process fake of the host application's API on a manual clock. It
// describes what the API holds at the start, the traffic the tap would
// have observed, and what must be true afterwards.
//
// # Scenario Format
//
//	name: create_reminder
//	description: "A valid date on a job without a reminder creates one"
//	jobs:
//	  - id: J-100
//	    number: J0042
//	    customer: C-1
//	reminders:
//	  - id: R-1
//	    job: J-100
//	    due: "2025/05/01 00:00:00"
//	steps:
//	  - observe: J-100
//	  - save: { job: J-100, value: "2025-06-10" }
//	  - advance: 1s
//	  - fail: { kind: create, statuses: [502] }
//	  - navigate: J-100
//	  - leave: J-100
//	  - reconcile: J-100
//	expect:
//	  calls: [search, search, create]
//	  attempts: { create: 1 }
//	  reminders:
//	    - { job: J-100, due: "2025/06/10 00:00:00" }
//	  statuses:
//	    J-100: [checking, noReminder, checking, hasReminder]
//	  notifications: ["Service reminder created"]
//	  cycles: { ok: 2 }
//
// Every step waits for the engine to go idle before the next one runs.
// Only advance moves the clock, so a save takes effect once a later
// advance covers the debounce window.
//
// The clock starts at 2025-06-01T09:00:00Z unless the scenario sets now.
// Dates are evaluated in UTC. The settle delay is zero.
package harness
