package cli

import (
	"bytes"
	"testing"

	"stopshop/cartstate"
	"stopshop/models"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestPrintCartText(t *testing.T) {
	st := cartstate.Reduce(cartstate.Empty(500), cartstate.ReplaceAllFromRemote{Lines: []cartstate.Line{
		{ProductID: "P1", VariantKey: "red", DisplayName: "Shirt", UnitPrice: 300, Quantity: 2, MaxQuantity: 5, RemoteLineID: "1"},
		{ProductID: "P2", DisplayName: "Hat", UnitPrice: 200, Quantity: 3, MaxQuantity: 10},
	}})

	var out bytes.Buffer
	require.NoError(t, printCart(&out, "text", st))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "cart_text", out.Bytes())
}

func TestPrintEmptyCartText(t *testing.T) {
	var out bytes.Buffer
	st := cartstate.Empty(500)
	st.LastError = "Please log in to continue."
	require.NoError(t, printCart(&out, "text", st))
	require.Equal(t, "Your cart is empty.\n! Please log in to continue.\n", out.String())
}

func TestPrintProfile(t *testing.T) {
	p := models.Profile{UserID: "u1", Name: "alice", Email: "alice@example.com"}

	var out bytes.Buffer
	require.NoError(t, printProfile(&out, "text", p))
	require.Equal(t, "Signed in as alice <alice@example.com>.\n", out.String())

	out.Reset()
	require.NoError(t, printProfile(&out, "json", p))
	require.JSONEq(t, `{"userid":"u1","name":"alice","email":"alice@example.com"}`, out.String())
}
