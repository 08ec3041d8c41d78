package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewOrderCommand creates the order command group.
func NewOrderCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place and list orders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "place",
		Short: "Order everything in the cart",
		Long: `Order everything in the cart. The order is submitted once; the cart is
cleared only after the order is confirmed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				lines := s.cart.State().Lines
				s.log.Debug("placing order",
					zap.Int("lines", len(lines)),
					zap.String("total", money(s.orders.ComputeTotals(lines).OrderTotal)),
				)

				order, err := s.orders.Checkout(ctx, s.cart)
				if err != nil && order.ID == "" {
					return userError(err)
				}
				if perr := printOrder(cmd.OutOrStdout(), opts.Format, order); perr != nil {
					return perr
				}
				if err != nil {
					return userError(err)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				orders, err := s.orders.FetchOrders(ctx)
				if err != nil {
					return userError(err)
				}
				return printOrders(cmd.OutOrStdout(), opts.Format, orders)
			})
		},
	})
	return cmd
}
