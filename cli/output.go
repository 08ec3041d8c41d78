package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"stopshop/cartstate"
	"stopshop/models"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// money formats cents as a decimal amount.
func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func printCart(w io.Writer, format string, st cartstate.State) error {
	if format == "json" {
		return writeJSON(w, st)
	}
	if len(st.Lines) == 0 {
		fmt.Fprintln(w, "Your cart is empty.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LINE\tPRODUCT\tCOLOR\tQTY\tPRICE\tSUBTOTAL")
		for _, l := range st.Lines {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				l.Ref(), l.DisplayName, l.VariantKey, l.Quantity, l.MaxQuantity, money(l.UnitPrice), money(l.Subtotal()))
		}
		tw.Flush()
		fmt.Fprintf(w, "Items: %d  Subtotal: %s  Shipping: %s  Total: %s\n",
			st.TotalQuantity, money(st.TotalAmount), money(st.ShippingFee), money(st.OrderTotal()))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "! %s\n", st.LastError)
	}
	return nil
}

func printOrder(w io.Writer, format string, o models.Order) error {
	if format == "json" {
		return writeJSON(w, o)
	}
	fmt.Fprintf(w, "Order %s  %s  %s  total %s\n", o.ID, o.Status, o.CreatedAt.Format("2006-01-02 15:04"), money(o.OrderTotal))
	for _, it := range o.Items {
		fmt.Fprintf(w, "  %d x %s %s @ %s\n", it.Quantity, it.ProductName, it.Color, money(it.Price))
	}
	return nil
}

func printOrders(w io.Writer, format string, orders []models.Order) error {
	if format == "json" {
		if orders == nil {
			orders = []models.Order{}
		}
		return writeJSON(w, orders)
	}
	if len(orders) == 0 {
		fmt.Fprintln(w, "No orders yet.")
		return nil
	}
	for _, o := range orders {
		if err := printOrder(w, format, o); err != nil {
			return err
		}
	}
	return nil
}

func printProfile(w io.Writer, format string, p models.Profile) error {
	if format == "json" {
		return writeJSON(w, p)
	}
	_, err := fmt.Fprintf(w, "Signed in as %s <%s>.\n", p.Name, p.Email)
	return err
}
