package domain

type Transfer struct {
	Account  string
	Amount   Money
	Currency string
	Notes    map[string]string
}

type OrderRequest struct {
	Amount    Money
	Currency  string
	Receipt   string
	Notes     map[string]string
	Transfers []Transfer
}

type ProcessorOrder struct {
	ID       string
	KeyID    string
	Amount   Money
	Currency string
	Status   string
}
