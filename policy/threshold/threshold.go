// Package threshold provides an M-of-N multisig policy. The base signer
// check accepts a rule when any one listed signer authenticated; attaching
// this policy additionally requires at least M of the rule's signers.
package threshold

import (
	"context"
	"fmt"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/internal/codec"
	"github.com/xraph/latch/policy"
	"github.com/xraph/latch/rule"
)

var (
	_ policy.Policy    = (*Policy)(nil)
	_ policy.Installer = (*Policy)(nil)
	_ policy.Validator = (*Policy)(nil)
)

// Param is the install parameter.
type Param struct {
	Threshold uint32 `cbor:"threshold"`
}

// Encode builds the install parameter for an M-of-N requirement.
func Encode(m uint32) ([]byte, error) {
	return codec.Marshal(Param{Threshold: m})
}

func decode(param []byte) (Param, error) {
	var p Param
	if err := codec.Unmarshal(param, &p); err != nil {
		return Param{}, fmt.Errorf("%w: %v", policy.ErrInvalidParam, err)
	}
	if p.Threshold == 0 {
		return Param{}, fmt.Errorf("%w: threshold must be at least 1", policy.ErrInvalidParam)
	}
	return p, nil
}

// Policy enforces a minimum number of distinct authenticated rule signers.
type Policy struct{}

// New returns a threshold policy.
func New() *Policy { return &Policy{} }

// Install rejects thresholds the rule could never meet.
func (p *Policy) Install(ctx context.Context, accountID id.AccountID, r *rule.Rule, param []byte) error {
	return p.Validate(ctx, accountID, r, param)
}

// Validate implements policy.Validator. It keeps a signer removal from
// leaving fewer signers than the threshold.
func (p *Policy) Validate(_ context.Context, _ id.AccountID, r *rule.Rule, param []byte) error {
	prm, err := decode(param)
	if err != nil {
		return err
	}
	if r != nil && int(prm.Threshold) > len(r.Signers) {
		return fmt.Errorf("%w: threshold %d exceeds %d signers", policy.ErrInvalidParam, prm.Threshold, len(r.Signers))
	}
	return nil
}

// Check implements policy.Policy.
func (p *Policy) Check(_ context.Context, req *policy.Request, param []byte) error {
	prm, err := decode(param)
	if err != nil {
		return err
	}
	if got := len(req.RuleSigners()); got < int(prm.Threshold) {
		return fmt.Errorf("%w: %d of %d required signers", policy.ErrDenied, got, prm.Threshold)
	}
	return nil
}
