package cartstate

// Action is an input to Reduce. The set is closed.
type Action interface {
	action()
}

// Snapshot is the catalog data captured when a product is added.
type Snapshot struct {
	DisplayName string
	ImageURL    string
	UnitPrice   int64
	MaxQuantity int
}

// AddOrIncrement merges quantity into the line for (ProductID, VariantKey),
// appending a new line when none exists.
type AddOrIncrement struct {
	ProductID  string
	VariantKey string
	Quantity   int
	Snapshot   Snapshot
}

// SetQuantity sets the quantity of the line named by Ref.
type SetQuantity struct {
	Ref      string
	Quantity int
}

// RemoveLine drops the line named by Ref.
type RemoveLine struct {
	Ref string
}

// ClearAll empties the cart.
type ClearAll struct{}

// ReplaceAllFromRemote swaps every line for the server's view.
type ReplaceAllFromRemote struct {
	Lines []Line
}

// RecomputeTotals re-derives the totals from the lines.
type RecomputeTotals struct{}

// SetSyncing toggles the in-flight flag.
type SetSyncing struct {
	Syncing bool
}

// SetError records or clears the last remote error message.
type SetError struct {
	Message string
}

func (AddOrIncrement) action()       {}
func (SetQuantity) action()          {}
func (RemoveLine) action()           {}
func (ClearAll) action()             {}
func (ReplaceAllFromRemote) action() {}
func (RecomputeTotals) action()      {}
func (SetSyncing) action()           {}
func (SetError) action()             {}
