// Package latch provides the authorization core of a programmable smart
// account.
//
// An account owns an ordered table of context rules. Each rule names the
// actions it covers, the signers that may satisfy it, an optional expiry
// ledger and a set of policies that must all approve. The engine answers
// one question: do these signatures over this payload authorize these
// actions? Signers are either native Ed25519 keys or keys checked by an
// external verifier registered on the engine.
//
//	eng, err := latch.NewEngine(
//	    latch.WithStore(memStore),
//	    latch.WithVerifier(webauthnRef, prefixed.New()),
//	)
//	acct, _, err := eng.CreateAccount(ctx, "treasury", admins)
//	res, err := eng.Authorize(ctx, &latch.AuthorizeRequest{
//	    Account:  acct.ID,
//	    Nonce:    1,
//	    Contexts: []action.Context{action.Call("CTOKEN", "transfer")},
//	    Signatures: sigs,
//	})
package latch

import "github.com/xraph/latch/id"

// ID is the primary identifier type for all latch entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
