package settlement

import "github.com/tolelom/tolmart/core"

// Debit removes amount from addr. An insufficient balance is a transfer
// failure (code 1).
func Debit(st core.State, addr string, amount uint64) error {
	acc, err := st.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return core.Errorf(core.ErrTransferFailed, "insufficient balance: have %d need %d", acc.Balance, amount)
	}
	acc.Balance -= amount
	return st.SetAccount(acc)
}

// Credit adds amount to addr, failing rather than wrapping on overflow.
func Credit(st core.State, addr string, amount uint64) error {
	acc, err := st.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance, err = Add(acc.Balance, amount); err != nil {
		return err
	}
	return st.SetAccount(acc)
}

// Transfer moves amount from one account to another. Zero amounts and
// self-transfers are no-ops that write nothing.
func Transfer(st core.State, from, to string, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	if err := Debit(st, from, amount); err != nil {
		return err
	}
	return Credit(st, to, amount)
}

// Lock moves amount from addr into ledger custody.
func Lock(st core.State, addr string, amount uint64) error {
	return Transfer(st, addr, core.CustodyAddress, amount)
}

// Unlock pays amount out of ledger custody to addr.
func Unlock(st core.State, addr string, amount uint64) error {
	return Transfer(st, core.CustodyAddress, addr, amount)
}

// Sale describes a settlement of a priced item.
type Sale struct {
	Seller           string
	Price            uint64
	RoyaltyBips      uint16
	RoyaltyRecipient string
}

// Pay settles sale from payer (a buyer account or custody). The marketplace
// fee is only charged when a fee recipient is configured.
func Pay(st core.State, payer string, sale Sale) (Payout, error) {
	admin, err := st.GetAdmin()
	if err != nil {
		return Payout{}, err
	}
	feeBips := admin.FeeBips
	if admin.FeeRecipient == "" {
		feeBips = 0
	}
	p, err := Split(sale.Price, sale.RoyaltyBips, feeBips)
	if err != nil {
		return Payout{}, err
	}
	if err := Transfer(st, payer, admin.FeeRecipient, p.Fee); err != nil {
		return Payout{}, err
	}
	if err := Transfer(st, payer, sale.RoyaltyRecipient, p.Royalty); err != nil {
		return Payout{}, err
	}
	if err := Transfer(st, payer, sale.Seller, p.Seller); err != nil {
		return Payout{}, err
	}
	return p, nil
}
