package payouts

import (
	"context"

	"github.com/go-playground/validator/v10"
)

// Eligibility decides whether a payee can be included in a PayPal payout run.
type Eligibility struct {
	repo     *Repo
	validate *validator.Validate
}

func NewEligibility(repo *Repo) *Eligibility {
	return &Eligibility{repo: repo, validate: validator.New()}
}

// IsUserPayable runs every check before any network call is made. The
// returned reason is empty when the payee is payable.
func (e *Eligibility) IsUserPayable(ctx context.Context, p Payee, amountCents int64) (bool, string, error) {
	if amountCents <= 0 {
		return false, ReasonNothingToPay, nil
	}
	// payees with a bank account are paid through the bank rail, never here
	if p.HasBankAccount {
		return false, ReasonBankAccount, nil
	}
	if err := e.validate.Var(p.PayPalEmail, "required,email,printascii"); err != nil {
		return false, ReasonInvalidEmail, nil
	}
	if !p.HasComplianceInfo() {
		return false, ReasonMissingCompliance, nil
	}
	inFlight, err := e.repo.HasPaymentInFlight(ctx, p.ID)
	if err != nil {
		return false, "", err
	}
	if inFlight {
		return false, ReasonPaymentInFlight, nil
	}
	return true, "", nil
}
