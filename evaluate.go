package latch

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/nonce"
	"github.com/xraph/latch/payload"
	"github.com/xraph/latch/plugin"
	"github.com/xraph/latch/policy"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

// EvaluateRequest asks whether a signed payload authorizes a set of actions
// on an account.
type EvaluateRequest struct {
	Account    id.AccountID      `json:"account"`
	Payload    []byte            `json:"payload"`
	Signatures signer.Signatures `json:"signatures"`
	Contexts   []action.Context  `json:"contexts"`
}

// AuthorizeRequest is an EvaluateRequest whose payload is derived from a
// replay-protected envelope.
type AuthorizeRequest struct {
	Account          id.AccountID      `json:"account"`
	Nonce            uint64            `json:"nonce"`
	ExpirationLedger uint32            `json:"expiration_ledger"`
	Contexts         []action.Context  `json:"contexts"`
	Signatures       signer.Signatures `json:"signatures"`
}

// Match records which rule authorized one action.
type Match struct {
	ContextIndex int    `json:"context_index"`
	RuleID       uint32 `json:"rule_id"`
	RuleName     string `json:"rule_name"`
}

// Result is a successful authorization.
type Result struct {
	Account    id.AccountID    `json:"account"`
	Ledger     uint32          `json:"ledger"`
	Signers    []signer.Signer `json:"signers"`
	Matches    []Match         `json:"matches"`
	EvalTimeNs int64           `json:"eval_time_ns"`
}

// RuleIDs returns the matched rule ids in context order.
func (r *Result) RuleIDs() []uint32 {
	ids := make([]uint32, len(r.Matches))
	for i, m := range r.Matches {
		ids[i] = m.RuleID
	}
	return ids
}

// Evaluate checks that every action in req is authorized by the presented
// signatures over req.Payload. It returns a *DenialError on any denial;
// there is no partial success.
func (e *Engine) Evaluate(ctx context.Context, req *EvaluateRequest) (*Result, error) {
	unlock := e.locks.lock(req.Account)
	defer unlock()

	seq, err := e.CurrentLedger(ctx)
	if err != nil {
		return nil, err
	}
	return e.traced(ctx, req.Account, req.Payload, req.Signatures, req.Contexts, seq, func() (*Result, error) {
		return e.evaluate(ctx, req.Account, seq, req.Payload, req.Signatures, req.Contexts)
	})
}

// Authorize derives the payload from the request envelope, evaluates it and
// consumes the nonce. Expired envelopes and replayed nonces are rejected
// before any signature is checked. The nonce is only recorded when the
// request is authorized.
func (e *Engine) Authorize(ctx context.Context, req *AuthorizeRequest) (*Result, error) {
	unlock := e.locks.lock(req.Account)
	defer unlock()
	return e.authorize(ctx, req)
}

// Payload returns the bytes signers must sign for req.
func (e *Engine) Payload(req *AuthorizeRequest) ([]byte, error) {
	p, err := payload.Hash(&payload.Envelope{
		NetworkID:        e.config.NetworkID,
		Account:          req.Account,
		Nonce:            req.Nonce,
		ExpirationLedger: req.ExpirationLedger,
		Contexts:         req.Contexts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return p, nil
}

// authorize runs Authorize with the account lock already held.
func (e *Engine) authorize(ctx context.Context, req *AuthorizeRequest) (*Result, error) {
	seq, err := e.CurrentLedger(ctx)
	if err != nil {
		return nil, err
	}
	p, err := e.Payload(req)
	if err != nil {
		return nil, err
	}

	return e.traced(ctx, req.Account, p, req.Signatures, req.Contexts, seq, func() (*Result, error) {
		if req.ExpirationLedger < seq {
			return nil, &DenialError{
				Err:          ErrSignatureExpired,
				ContextIndex: -1,
				Cause:        fmt.Errorf("expired at ledger %d, current %d", req.ExpirationLedger, seq),
			}
		}
		if w := e.config.MaxExpirationWindow; w > 0 && req.ExpirationLedger-seq > w {
			return nil, fmt.Errorf("%w: expiration ledger %d is more than %d ledgers past %d",
				ErrInvalidRequest, req.ExpirationLedger, w, seq)
		}
		seen, err := e.nonces.Seen(ctx, req.Account, req.Nonce)
		if err != nil {
			return nil, fmt.Errorf("latch: nonce lookup: %w", err)
		}
		if seen {
			return nil, &DenialError{Err: ErrNonceReused, ContextIndex: -1}
		}

		res, err := e.evaluate(ctx, req.Account, seq, p, req.Signatures, req.Contexts)
		if err != nil {
			return nil, err
		}

		if err := e.nonces.Record(ctx, req.Account, req.Nonce, req.ExpirationLedger); err != nil {
			if errors.Is(err, nonce.ErrReplay) {
				return nil, &DenialError{Err: ErrNonceReused, ContextIndex: -1}
			}
			return nil, fmt.Errorf("latch: nonce record: %w", err)
		}
		e.pruneNonces(ctx, seq)
		return res, nil
	})
}

// pruneNonces drops expired nonce records when the store supports it. It runs
// at most once per ledger across all accounts.
func (e *Engine) pruneNonces(ctx context.Context, seq uint32) {
	pr, ok := e.nonces.(nonce.Pruner)
	if !ok {
		return
	}
	last := e.prunedAt.Load()
	if seq <= last || !e.prunedAt.CompareAndSwap(last, seq) {
		return
	}
	if _, err := pr.Prune(ctx, seq); err != nil {
		e.logger.Warn("nonce prune failed", "ledger", seq, "error", err)
	}
}

// traced wraps an evaluation with plugin notifications and timing.
func (e *Engine) traced(
	ctx context.Context,
	accountID id.AccountID,
	p []byte,
	sigs signer.Signatures,
	contexts []action.Context,
	seq uint32,
	fn func() (*Result, error),
) (*Result, error) {
	start := time.Now()
	ev := &plugin.Evaluation{
		AccountID: accountID,
		Payload:   p,
		Contexts:  contexts,
		Signers:   sigs.Signers(),
		Ledger:    seq,
	}
	e.plugins.EmitBeforeEvaluate(ctx, ev)

	res, err := fn()

	ev.Duration = time.Since(start)
	ev.Err = err
	if res != nil {
		res.EvalTimeNs = ev.Duration.Nanoseconds()
		ev.MatchedRules = res.RuleIDs()
	}
	e.plugins.EmitAfterEvaluate(ctx, ev)
	return res, err
}

// evaluate is the five-step check: authenticate all signatures, resolve
// candidate rules per action, filter by expiry and signer overlap, apply
// policies, and require every action to be covered.
func (e *Engine) evaluate(
	ctx context.Context,
	accountID id.AccountID,
	seq uint32,
	p []byte,
	sigs signer.Signatures,
	contexts []action.Context,
) (*Result, error) {
	if err := e.checkBounds(p, sigs, contexts); err != nil {
		return nil, err
	}
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("latch: evaluate: %w", err)
	}

	authenticated, err := e.authenticate(ctx, p, sigs)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Account: accountID,
		Ledger:  seq,
		Signers: authenticated,
		Matches: make([]Match, 0, len(contexts)),
	}
	for i, c := range contexts {
		r, err := e.authorizeContext(ctx, accountID, seq, i, c, authenticated)
		if err != nil {
			return nil, err
		}
		res.Matches = append(res.Matches, Match{ContextIndex: i, RuleID: r.ID, RuleName: r.Name})
	}
	return res, nil
}

func (e *Engine) checkBounds(p []byte, sigs signer.Signatures, contexts []action.Context) error {
	if len(p) == 0 {
		return invalidf("empty payload")
	}
	if len(contexts) == 0 {
		return invalidf("no actions requested")
	}
	if limit := e.config.MaxContexts; limit > 0 && len(contexts) > limit {
		return invalidf("%d actions exceed limit %d", len(contexts), limit)
	}
	if limit := e.config.MaxSignatures; limit > 0 && len(sigs) > limit {
		return invalidf("%d signatures exceed limit %d", len(sigs), limit)
	}
	for i, c := range contexts {
		if err := c.Validate(); err != nil {
			return invalidf("context %d: %v", i, err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Step 1: authentication
// ──────────────────────────────────────────────────

// authenticate verifies every signature. Any failure rejects the request;
// the returned set is only produced when all signatures verified.
func (e *Engine) authenticate(ctx context.Context, p []byte, sigs signer.Signatures) ([]signer.Signer, error) {
	if err := sigs.CheckUnique(); err != nil {
		return nil, &DenialError{Err: ErrAuthenticationFailed, ContextIndex: -1, Cause: err}
	}

	if e.config.ParallelVerify && len(sigs) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := range sigs {
			sig := sigs[i]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return e.verifySignature(p, sig)
			})
		}
		if err := g.Wait(); err != nil {
			var denial *DenialError
			if errors.As(err, &denial) {
				return nil, denial
			}
			return nil, &DenialError{Err: ErrAuthenticationFailed, ContextIndex: -1, Cause: err}
		}
	} else {
		for _, sig := range sigs {
			if err := e.verifySignature(p, sig); err != nil {
				return nil, err
			}
		}
	}
	return sigs.Signers(), nil
}

func (e *Engine) verifySignature(p []byte, sig signer.Signature) error {
	s := sig.Signer
	fail := func(cause error) error {
		return &DenialError{Err: ErrAuthenticationFailed, ContextIndex: -1, Signer: &s, Cause: cause}
	}

	if err := s.Validate(); err != nil {
		return fail(err)
	}

	switch s.Kind {
	case signer.KindNative:
		if len(sig.Data) != ed25519.SignatureSize {
			return fail(fmt.Errorf("native signature must be %d bytes", ed25519.SignatureSize))
		}
		if !ed25519.Verify(ed25519.PublicKey(s.Key), p, sig.Data) {
			return fail(errors.New("native signature mismatch"))
		}
		return nil

	case signer.KindExternal:
		v, err := e.verifiers.Lookup(s.Verifier)
		if err != nil {
			return fail(err)
		}
		ok, err := v.Verify(p, s.Key, sig.Data)
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(errors.New("verifier rejected signature"))
		}
		return nil

	default:
		return fail(fmt.Errorf("unknown signer kind %q", s.Kind))
	}
}

// ──────────────────────────────────────────────────
// Steps 2-4: per-action rule resolution
// ──────────────────────────────────────────────────

// authorizeContext returns the first candidate rule, in specificity then
// creation order, that is unexpired, names an authenticated signer and
// passes all of its policies.
func (e *Engine) authorizeContext(
	ctx context.Context,
	accountID id.AccountID,
	seq uint32,
	index int,
	c action.Context,
	authenticated []signer.Signer,
) (*rule.Rule, error) {
	var candidates []*rule.Rule
	for _, typ := range rule.TypesFor(c) {
		rules, err := e.rulesOfType(ctx, accountID, typ)
		if err != nil {
			return nil, fmt.Errorf("latch: resolve rules: %w", err)
		}
		candidates = append(candidates, rules...)
	}
	if len(candidates) == 0 {
		return nil, &DenialError{Err: ErrNoMatchingRule, ContextIndex: index}
	}

	var rejected *DenialError
	for _, r := range candidates {
		if r.Expired(seq) || !signerOverlap(r, authenticated) {
			continue
		}
		denial, err := e.checkPolicies(ctx, &policy.Request{
			AccountID:     accountID,
			Context:       c,
			ContextIndex:  index,
			Rule:          r,
			Ledger:        seq,
			Authenticated: authenticated,
		})
		if err != nil {
			return nil, err
		}
		if denial == nil {
			return r, nil
		}
		if rejected == nil {
			rejected = denial
		}
	}

	if rejected != nil {
		return nil, rejected
	}
	return nil, &DenialError{Err: ErrUnvalidatedContext, ContextIndex: index}
}

func signerOverlap(r *rule.Rule, authenticated []signer.Signer) bool {
	for _, s := range authenticated {
		if r.HasSigner(s) {
			return true
		}
	}
	return false
}

// checkPolicies runs every policy bound to req.Rule. A denial is returned
// as a *DenialError; context cancellation is returned as an error.
func (e *Engine) checkPolicies(ctx context.Context, req *policy.Request) (*DenialError, error) {
	for _, b := range req.Rule.Policies {
		ruleID := req.Rule.ID
		deny := func(cause error) *DenialError {
			return &DenialError{
				Err:          ErrPolicyRejected,
				ContextIndex: req.ContextIndex,
				RuleID:       &ruleID,
				PolicyID:     b.Policy,
				Cause:        cause,
			}
		}

		p, err := e.policies.Lookup(b.Policy)
		if err != nil {
			return deny(err), nil
		}
		if err := p.Check(ctx, req, b.Param); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return deny(err), nil
		}
	}
	return nil, nil
}
