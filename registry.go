package latch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/policy"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

// AdminPayload returns the bytes an account's admin signers must sign to
// authorize m under the given nonce and expiration ledger.
func (e *Engine) AdminPayload(accountID id.AccountID, m Mutation, nonce uint64, expirationLedger uint32) ([]byte, error) {
	return e.Payload(&AuthorizeRequest{
		Account:          accountID,
		Nonce:            nonce,
		ExpirationLedger: expirationLedger,
		Contexts:         []action.Context{AdminContext(accountID, m)},
	})
}

// authorizeAdmin runs the admin context of m through Authorize. The account
// lock must be held.
func (e *Engine) authorizeAdmin(ctx context.Context, accountID id.AccountID, m Mutation, proof *AdminProof) error {
	if proof == nil {
		return &DenialError{
			Err:          ErrAuthenticationFailed,
			ContextIndex: -1,
			Cause:        fmt.Errorf("%s requires an admin proof", m.Operation()),
		}
	}
	_, err := e.authorize(ctx, &AuthorizeRequest{
		Account:          accountID,
		Nonce:            proof.Nonce,
		ExpirationLedger: proof.ExpirationLedger,
		Contexts:         []action.Context{AdminContext(accountID, m)},
		Signatures:       proof.Signatures,
	})
	return err
}

// ──────────────────────────────────────────────────
// Add / remove
// ──────────────────────────────────────────────────

// AddRule validates op, authorizes it under proof and persists the new
// rule with a freshly allocated id. Policies implementing policy.Installer
// are installed once the id is known; if one fails the rule is deleted again
// and its id is not reused.
func (e *Engine) AddRule(ctx context.Context, accountID id.AccountID, op *AddRuleOp, proof *AdminProof) (*rule.Rule, error) {
	if op == nil {
		return nil, invalidf("nil operation")
	}
	unlock := e.locks.lock(accountID)
	defer unlock()

	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("latch: add rule: %w", err)
	}

	now := time.Now().UTC()
	r := &rule.Rule{
		AccountID:  accountID,
		Type:       op.Type,
		Name:       op.Name,
		ValidUntil: op.ValidUntil,
		Signers:    signer.Clone(op.Signers),
		Policies:   op.Policies,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r = r.Clone()
	if err := e.validateRule(ctx, r); err != nil {
		return nil, err
	}
	if err := e.authorizeAdmin(ctx, accountID, op, proof); err != nil {
		return nil, err
	}

	if err := e.store.CreateRule(ctx, r); err != nil {
		return nil, fmt.Errorf("latch: add rule: %w", err)
	}
	if _, err := e.installPolicies(ctx, r, r.Policies); err != nil {
		if derr := e.store.DeleteRule(ctx, accountID, r.ID); derr != nil {
			e.logger.Error("rule left behind after failed policy install",
				"account", accountID.String(),
				"rule", r.ID,
				"error", derr,
			)
		}
		return nil, err
	}
	e.invalidate(ctx, accountID)
	e.plugins.EmitRuleCreated(ctx, r)
	return r, nil
}

// RemoveRule deletes a rule after authorizing the removal under proof.
func (e *Engine) RemoveRule(ctx context.Context, accountID id.AccountID, ruleID uint32, proof *AdminProof) error {
	unlock := e.locks.lock(accountID)
	defer unlock()

	r, err := e.store.GetRule(ctx, accountID, ruleID)
	if err != nil {
		return err
	}
	if err := e.authorizeAdmin(ctx, accountID, &RemoveRuleOp{RuleID: ruleID}, proof); err != nil {
		return err
	}
	if err := e.store.DeleteRule(ctx, accountID, ruleID); err != nil {
		return fmt.Errorf("latch: remove rule: %w", err)
	}
	e.uninstallPolicies(ctx, r, r.Policies)
	e.invalidate(ctx, accountID)
	e.plugins.EmitRuleDeleted(ctx, accountID, ruleID)
	return nil
}

// ──────────────────────────────────────────────────
// Targeted mutators
// ──────────────────────────────────────────────────

// UpdateRuleName renames a rule.
func (e *Engine) UpdateRuleName(ctx context.Context, accountID id.AccountID, ruleID uint32, name string, proof *AdminProof) (*rule.Rule, error) {
	return e.updateRule(ctx, accountID, &UpdateRuleNameOp{RuleID: ruleID, Name: name}, ruleID, proof, ruleChange{
		apply: func(r *rule.Rule, _ uint32) error {
			if strings.TrimSpace(name) == "" {
				return invariantf("rule name is empty")
			}
			r.Name = name
			return nil
		},
	})
}

// UpdateRuleValidUntil sets or, with nil, clears a rule's expiry ledger.
func (e *Engine) UpdateRuleValidUntil(ctx context.Context, accountID id.AccountID, ruleID uint32, validUntil *uint32, proof *AdminProof) (*rule.Rule, error) {
	op := &UpdateRuleValidUntilOp{RuleID: ruleID, ValidUntil: validUntil}
	return e.updateRule(ctx, accountID, op, ruleID, proof, ruleChange{
		apply: func(r *rule.Rule, seq uint32) error {
			if validUntil != nil && *validUntil < seq {
				return invariantf("valid_until %d is before current ledger %d", *validUntil, seq)
			}
			if validUntil == nil {
				r.ValidUntil = nil
				return nil
			}
			v := *validUntil
			r.ValidUntil = &v
			return nil
		},
	})
}

// AddSigner adds s to a rule's signer set.
func (e *Engine) AddSigner(ctx context.Context, accountID id.AccountID, ruleID uint32, s signer.Signer, proof *AdminProof) (*rule.Rule, error) {
	return e.updateRule(ctx, accountID, &AddSignerOp{RuleID: ruleID, Signer: s}, ruleID, proof, ruleChange{
		apply: func(r *rule.Rule, _ uint32) error {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("%w: %w", ErrStoreInvariant, err)
			}
			if r.HasSigner(s) {
				return invariantf("signer %s already on rule %d", s, r.ID)
			}
			r.Signers = append(r.Signers, signer.Clone([]signer.Signer{s})...)
			return nil
		},
	})
}

// RemoveSigner removes s from a rule's signer set. Removing the last signer
// is refused; remove the rule instead.
func (e *Engine) RemoveSigner(ctx context.Context, accountID id.AccountID, ruleID uint32, s signer.Signer, proof *AdminProof) (*rule.Rule, error) {
	return e.updateRule(ctx, accountID, &RemoveSignerOp{RuleID: ruleID, Signer: s}, ruleID, proof, ruleChange{
		apply: func(r *rule.Rule, _ uint32) error {
			i := signer.Index(r.Signers, s)
			if i < 0 {
				return invariantf("signer %s not on rule %d", s, r.ID)
			}
			if len(r.Signers) == 1 {
				return invariantf("cannot remove the last signer of rule %d", r.ID)
			}
			r.Signers = append(r.Signers[:i], r.Signers[i+1:]...)
			return nil
		},
	})
}

// AddPolicy attaches a registered policy to a rule, installing it first if
// it implements policy.Installer.
func (e *Engine) AddPolicy(ctx context.Context, accountID id.AccountID, ruleID uint32, b rule.Binding, proof *AdminProof) (*rule.Rule, error) {
	return e.updateRule(ctx, accountID, &AddPolicyOp{RuleID: ruleID, Binding: b}, ruleID, proof, ruleChange{
		apply: func(r *rule.Rule, _ uint32) error {
			if r.PolicyIndex(b.Policy) >= 0 {
				return invariantf("policy %s already on rule %d", b.Policy, r.ID)
			}
			if _, err := e.policies.Lookup(b.Policy); err != nil {
				return fmt.Errorf("%w: %w", ErrStoreInvariant, err)
			}
			r.Policies = append(r.Policies, rule.Binding{Policy: b.Policy, Param: append([]byte(nil), b.Param...)})
			return nil
		},
		install: func(ctx context.Context, r *rule.Rule) (func(), error) {
			installed, err := e.installPolicies(ctx, r, []rule.Binding{b})
			if err != nil {
				return nil, err
			}
			return func() { e.uninstallPolicies(ctx, r, installed) }, nil
		},
	})
}

// RemovePolicy detaches a policy from a rule.
func (e *Engine) RemovePolicy(ctx context.Context, accountID id.AccountID, ruleID uint32, policyID id.PolicyID, proof *AdminProof) (*rule.Rule, error) {
	var removed rule.Binding
	return e.updateRule(ctx, accountID, &RemovePolicyOp{RuleID: ruleID, Policy: policyID}, ruleID, proof, ruleChange{
		apply: func(r *rule.Rule, _ uint32) error {
			i := r.PolicyIndex(policyID)
			if i < 0 {
				return invariantf("policy %s not on rule %d", policyID, r.ID)
			}
			removed = r.Policies[i]
			r.Policies = append(r.Policies[:i], r.Policies[i+1:]...)
			return nil
		},
		release: func(ctx context.Context, r *rule.Rule) {
			e.uninstallPolicies(ctx, r, []rule.Binding{removed})
		},
	})
}

// ruleChange describes one targeted mutation.
type ruleChange struct {
	// apply validates and modifies a copy of the stored rule. It runs
	// before authorization; an error leaves the store untouched.
	apply func(r *rule.Rule, seq uint32) error

	// install runs after authorization and before persistence. The
	// returned undo is called if persistence fails.
	install func(ctx context.Context, r *rule.Rule) (undo func(), err error)

	// release runs after persistence.
	release func(ctx context.Context, r *rule.Rule)
}

func (e *Engine) updateRule(ctx context.Context, accountID id.AccountID, m Mutation, ruleID uint32, proof *AdminProof, change ruleChange) (*rule.Rule, error) {
	unlock := e.locks.lock(accountID)
	defer unlock()

	current, err := e.store.GetRule(ctx, accountID, ruleID)
	if err != nil {
		return nil, err
	}
	seq, err := e.CurrentLedger(ctx)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := change.apply(next, seq); err != nil {
		return nil, err
	}
	if err := e.validatePolicies(ctx, next); err != nil {
		return nil, err
	}
	if err := e.authorizeAdmin(ctx, accountID, m, proof); err != nil {
		return nil, err
	}

	undo := func() {}
	if change.install != nil {
		if undo, err = change.install(ctx, next); err != nil {
			return nil, err
		}
	}

	next.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateRule(ctx, next); err != nil {
		undo()
		return nil, fmt.Errorf("latch: %s: %w", m.Operation(), err)
	}
	if change.release != nil {
		change.release(ctx, next)
	}
	e.invalidate(ctx, accountID)
	e.plugins.EmitRuleUpdated(ctx, next)
	return next, nil
}

// ──────────────────────────────────────────────────
// Validation and policy hooks
// ──────────────────────────────────────────────────

// validateRule enforces the structural invariants of a new rule.
func (e *Engine) validateRule(ctx context.Context, r *rule.Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return invariantf("rule name is empty")
	}
	if err := r.Type.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreInvariant, err)
	}
	if len(r.Signers) == 0 {
		return invariantf("signer set is empty")
	}
	if err := signer.ValidateSet(r.Signers); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreInvariant, err)
	}
	if r.ValidUntil != nil {
		seq, err := e.CurrentLedger(ctx)
		if err != nil {
			return err
		}
		if *r.ValidUntil < seq {
			return invariantf("valid_until %d is before current ledger %d", *r.ValidUntil, seq)
		}
	}
	seen := make(map[string]struct{}, len(r.Policies))
	for _, b := range r.Policies {
		key := b.Policy.String()
		if _, dup := seen[key]; dup {
			return invariantf("policy %s attached twice", key)
		}
		seen[key] = struct{}{}
		if _, err := e.policies.Lookup(b.Policy); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreInvariant, err)
		}
	}
	return e.validatePolicies(ctx, r)
}

// validatePolicies runs Validate for each binding on r whose policy
// implements policy.Validator. Unregistered policies are skipped; callers
// that add bindings check registration themselves.
func (e *Engine) validatePolicies(ctx context.Context, r *rule.Rule) error {
	for _, b := range r.Policies {
		p, err := e.policies.Lookup(b.Policy)
		if err != nil {
			continue
		}
		if v, ok := p.(policy.Validator); ok {
			if err := v.Validate(ctx, r.AccountID, r, b.Param); err != nil {
				return fmt.Errorf("%w: policy %s: %w", ErrStoreInvariant, b.Policy, err)
			}
		}
	}
	return nil
}

// installPolicies runs Install for each binding whose policy implements
// policy.Installer. On failure the already installed ones are uninstalled.
func (e *Engine) installPolicies(ctx context.Context, r *rule.Rule, bindings []rule.Binding) ([]rule.Binding, error) {
	installed := make([]rule.Binding, 0, len(bindings))
	for _, b := range bindings {
		p, err := e.policies.Lookup(b.Policy)
		if err != nil {
			e.uninstallPolicies(ctx, r, installed)
			return nil, fmt.Errorf("%w: %w", ErrStoreInvariant, err)
		}
		if in, ok := p.(policy.Installer); ok {
			if err := in.Install(ctx, r.AccountID, r, b.Param); err != nil {
				e.uninstallPolicies(ctx, r, installed)
				return nil, fmt.Errorf("%w: policy %s: %w", ErrStoreInvariant, b.Policy, err)
			}
		}
		installed = append(installed, b)
	}
	return installed, nil
}

// uninstallPolicies runs Uninstall where implemented. Failures are logged;
// the rule change has already been decided.
func (e *Engine) uninstallPolicies(ctx context.Context, r *rule.Rule, bindings []rule.Binding) {
	for _, b := range bindings {
		p, err := e.policies.Lookup(b.Policy)
		if err != nil {
			continue
		}
		un, ok := p.(policy.Uninstaller)
		if !ok {
			continue
		}
		if err := un.Uninstall(ctx, r.AccountID, r); err != nil {
			e.logger.Warn("policy uninstall failed",
				"policy", b.Policy.String(),
				"account", r.AccountID.String(),
				"rule", r.ID,
				"error", err,
			)
		}
	}
}
