package settlement

import "github.com/tolelom/tolmart/core"

// Record is a completed settlement between a buyer and a seller.
type Record struct {
	Kind   string // core.Kind*
	RefID  uint64
	Buyer  string
	Seller string
	Amount uint64
	Block  uint64
}

// Book credits both parties' reputation and appends the settlement to each
// party's transaction history.
func Book(st core.State, r Record) error {
	if err := bumpReputation(st, r.Buyer, core.RoleBuyer, r.Amount); err != nil {
		return err
	}
	if err := bumpReputation(st, r.Seller, core.RoleSeller, r.Amount); err != nil {
		return err
	}
	if err := st.AppendHistory(r.Buyer, &core.HistoryEntry{
		Kind: r.Kind, RefID: r.RefID, Role: core.RoleBuyer,
		Counterparty: r.Seller, Amount: r.Amount, Block: r.Block,
	}); err != nil {
		return err
	}
	return st.AppendHistory(r.Seller, &core.HistoryEntry{
		Kind: r.Kind, RefID: r.RefID, Role: core.RoleSeller,
		Counterparty: r.Buyer, Amount: r.Amount, Block: r.Block,
	})
}

func bumpReputation(st core.State, principal string, role core.Role, amount uint64) error {
	rep, err := st.GetReputation(principal, role)
	if err != nil {
		return err
	}
	if rep.SuccessfulTxs, err = Add(rep.SuccessfulTxs, 1); err != nil {
		return err
	}
	if rep.TotalVolume, err = Add(rep.TotalVolume, amount); err != nil {
		return err
	}
	return st.SetReputation(rep)
}

// Price events recorded in a listing's price history.
const (
	PriceListed = "listed"
	PriceSold   = "sold"
)

// AppendPrice adds an entry to a listing's price history.
func AppendPrice(st core.State, listingID, price, block uint64, event string) error {
	entries, err := st.GetPriceHistory(listingID)
	if err != nil {
		return err
	}
	entries = append(entries, core.PriceEntry{Price: price, Block: block, Event: event})
	return st.SetPriceHistory(listingID, entries)
}
