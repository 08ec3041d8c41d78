package cartstate

// Reduce maps (state, action) to the next state. It never mutates s and the
// returned state shares no line storage with it.
func Reduce(s State, a Action) State {
	next := s.Clone()

	switch act := a.(type) {
	case AddOrIncrement:
		next.Lines = addOrIncrement(next.Lines, act)
	case SetQuantity:
		for i, l := range next.Lines {
			if l.Matches(act.Ref) {
				next.Lines[i].Quantity = clamp(act.Quantity, l.MaxQuantity)
				break
			}
		}
	case RemoveLine:
		kept := next.Lines[:0]
		for _, l := range next.Lines {
			if !l.Matches(act.Ref) {
				kept = append(kept, l)
			}
		}
		next.Lines = kept
	case ClearAll:
		next.Lines = []Line{}
	case ReplaceAllFromRemote:
		next.Lines = fromRemote(act.Lines)
	case RecomputeTotals:
	case SetSyncing:
		next.IsSyncing = act.Syncing
		return next
	case SetError:
		next.LastError = act.Message
		return next
	default:
		return next
	}

	return recompute(next)
}

func addOrIncrement(lines []Line, act AddOrIncrement) []Line {
	key := LineKey(act.ProductID, act.VariantKey)
	limit := act.Snapshot.MaxQuantity
	if limit < 1 {
		limit = DefaultMaxQuantity
	}

	for i, l := range lines {
		if l.Key() != key {
			continue
		}
		// The lower ceiling wins so a stale larger snapshot cannot raise it.
		ceiling := l.MaxQuantity
		if ceiling < 1 || limit < ceiling {
			ceiling = limit
		}
		qty := act.Quantity
		if qty < 0 {
			qty = 0
		}
		lines[i].MaxQuantity = ceiling
		lines[i].Quantity = clamp(l.Quantity+qty, ceiling)
		return lines
	}

	return append(lines, Line{
		ProductID:   act.ProductID,
		VariantKey:  act.VariantKey,
		DisplayName: act.Snapshot.DisplayName,
		ImageURL:    act.Snapshot.ImageURL,
		UnitPrice:   act.Snapshot.UnitPrice,
		Quantity:    clamp(act.Quantity, limit),
		MaxQuantity: limit,
	})
}

// fromRemote normalises server lines: duplicates fold into the first
// occurrence and quantities stay within [1, max]. The server quantity is
// authoritative, so a ceiling below it is raised rather than the quantity cut.
func fromRemote(in []Line) []Line {
	out := make([]Line, 0, len(in))
	index := make(map[string]int, len(in))
	for _, l := range in {
		if l.MaxQuantity < 1 {
			l.MaxQuantity = DefaultMaxQuantity
		}
		if l.Quantity < 1 {
			l.Quantity = 1
		}
		if i, ok := index[l.Key()]; ok {
			out[i].Quantity += l.Quantity
			if out[i].Quantity > out[i].MaxQuantity {
				out[i].MaxQuantity = out[i].Quantity
			}
			continue
		}
		if l.Quantity > l.MaxQuantity {
			l.MaxQuantity = l.Quantity
		}
		index[l.Key()] = len(out)
		out = append(out, l)
	}
	return out
}

func recompute(s State) State {
	s.TotalQuantity = 0
	s.TotalAmount = 0
	for _, l := range s.Lines {
		s.TotalQuantity += l.Quantity
		s.TotalAmount += l.Subtotal()
	}
	return s
}

func clamp(q, limit int) int {
	if limit < 1 {
		limit = DefaultMaxQuantity
	}
	if q < 1 {
		return 1
	}
	if q > limit {
		return limit
	}
	return q
}
