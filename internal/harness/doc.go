// Package harness runs tanda lifecycle scenarios against the in-memory
// ledger and a fake clock.
//
// A scenario drives the real orchestrator, retry registry and scheduler:
// nothing in the trace is manufactured by the harness. Every run starts
// from an empty ledger, an empty memory store and a clock frozen at
// testutil.DefaultStart, so traces are byte-identical between runs and
// can be compared against golden files.
//
// # Scenario Format
//
//	name: seven_failures_expel
//	description: "What this scenario validates"
//	wallet: GME            # the device wallet; defaults to GME
//	window: 144h           # delinquency window; defaults to six days
//	flow:
//	  - step: create
//	    as: GCREATOR
//	    name: Barrio
//	    amount: "10"
//	    members: 3
//	  - step: join
//	  - step: deposit
//	    expect: transient
//	  - step: clock
//	    by: 24h
//	  - step: tick
//	assertions:
//	  - type: record
//	    cycle: 1
//	    status: user_expelled
//	    attempts: 7
//
// Steps without "as" act as the device wallet through the orchestrator.
// Steps with another wallet go straight to the ledger, the way another
// member's phone would. Steps apply to the most recently created tanda.
//
// # Step Types
//
//   - create, join, start, leave: membership
//   - fund: credit a wallet with amount
//   - deposit: pay the current cycle
//   - advance: run the advancement policy and forward to the ledger
//   - tick: one retry scheduler tick
//   - force_retry, cancel_retry: act on the current cycle's retry record
//   - clock: move the fake clock forward by "by"
//   - offline, online: take the ledger away and bring it back
//   - sync: publish provisional tandas and refresh the cache
//
// # Assertion Types
//
//   - record: a retry record's status and attempt count
//   - score: the device wallet's reputation
//   - tanda: status, cycle and member count of the current tanda
//   - member: whether a wallet is still a member
//   - balance: a wallet's balance
//   - reminders: pending deposit reminders for the current tanda
//   - trace_count: how many steps of a kind ran, optionally by outcome
package harness
