// Package harness runs YAML scenarios against a fresh archive.
//
// A scenario bootstraps accounts, then drives documents through the
// document store and workflow tracks step by step. Each step may state the
// outcome or error code it expects, and assertions check the final trace,
// stored documents and index lookups.
//
// # Scenario Format
//
//	name: contact_lifecycle
//	description: "Editors archive contacts they created"
//	setup:
//	  - action: bootstrap
//	    id: u-1
//	    fields: { accountName: alice }
//	flow:
//	  - action: create
//	    actor: u-1
//	    collection: contacts
//	    id: c-1
//	    fields: { name: Ada, email: ada@example.com }
//	  - action: archive
//	    actor: u-1
//	    collection: contacts
//	    id: c-1
//	    expect: { outcome: applied }
//	assertions:
//	  - type: final_state
//	    collection: contacts
//	    id: c-1
//	    expect: { archival.isArchived: true }
//	  - type: lookup
//	    collection: contacts
//	    field: email
//	    value: ADA@example.com
//	    ids: [c-1]
//
// # Determinism
//
// Every run uses a fresh in-memory database, a step clock starting at
// testutil.Epoch and sequential store-generated ids, so traces can be
// compared against golden files.
package harness
