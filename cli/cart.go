package cli

import (
	"context"
	"fmt"
	"strconv"

	"stopshop/cartstate"

	"github.com/spf13/cobra"
)

// AddOptions holds flags for cart add.
type AddOptions struct {
	Color    string
	Quantity int
	Name     string
	Image    string
	Price    int64
	Stock    int
}

// NewCartCommand creates the cart command group.
func NewCartCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show and change your cart",
	}
	cmd.AddCommand(newCartShowCommand(rootOpts))
	cmd.AddCommand(newCartAddCommand(rootOpts))
	cmd.AddCommand(newLineCommand(rootOpts, "inc", "Increase a line by one", func(ctx context.Context, s *session, ref string, _ []string) error {
		return s.cart.Increase(ctx, ref)
	}))
	cmd.AddCommand(newLineCommand(rootOpts, "dec", "Decrease a line by one", func(ctx context.Context, s *session, ref string, _ []string) error {
		return s.cart.Decrease(ctx, ref)
	}))
	cmd.AddCommand(newLineCommand(rootOpts, "remove", "Remove a line", func(ctx context.Context, s *session, ref string, _ []string) error {
		return s.cart.Remove(ctx, ref)
	}))
	set := newLineCommand(rootOpts, "set", "Set a line's quantity", func(ctx context.Context, s *session, ref string, rest []string) error {
		q, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("quantity must be a number: %w", err)
		}
		return s.cart.SetQuantity(ctx, ref, q)
	})
	set.Use = "set <line> <quantity>"
	set.Args = cobra.ExactArgs(2)
	cmd.AddCommand(set)
	cmd.AddCommand(newCartClearCommand(rootOpts))
	return cmd
}

// withSession opens a session, mounts the cart and runs fn.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session) error) error {
	ctx := commandContext(cmd)
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.mount(ctx); err != nil {
		return err
	}
	return fn(ctx, s)
}

func newCartShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				return printCart(cmd.OutOrStdout(), opts.Format, s.cart.State())
			})
		},
	}
}

func newCartAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{}
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Long: `Add a product to the cart. Adding a product that is already in the
cart with the same color increases that line instead.

Example:
  stopshop cart add P1 --name Shirt --color red --price 1999 --stock 5 --qty 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Name == "" {
				opts.Name = args[0]
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				err := s.cart.AddItem(ctx, args[0], opts.Color, opts.Quantity, cartstate.Snapshot{
					DisplayName: opts.Name,
					ImageURL:    opts.Image,
					UnitPrice:   opts.Price,
					MaxQuantity: opts.Stock,
				})
				if err != nil {
					return userError(err)
				}
				return printCart(cmd.OutOrStdout(), rootOpts.Format, s.cart.State())
			})
		},
	}
	cmd.Flags().StringVar(&opts.Color, "color", "", "variant color")
	cmd.Flags().IntVarP(&opts.Quantity, "qty", "q", 1, "quantity to add")
	cmd.Flags().StringVar(&opts.Name, "name", "", "product name (defaults to the id)")
	cmd.Flags().StringVar(&opts.Image, "image", "", "product image URL")
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "unit price in cents")
	cmd.Flags().IntVar(&opts.Stock, "stock", cartstate.DefaultMaxQuantity, "units in stock")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

// newLineCommand builds a command acting on one line, named by its server
// id or by product:color.
func newLineCommand(opts *RootOptions, name, short string, fn func(ctx context.Context, s *session, ref string, rest []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <line>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if err := fn(ctx, s, args[0], args[1:]); err != nil {
					return userError(err)
				}
				return printCart(cmd.OutOrStdout(), opts.Format, s.cart.State())
			})
		},
	}
}

func newCartClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if err := s.cart.Clear(ctx); err != nil {
					return userError(err)
				}
				return printCart(cmd.OutOrStdout(), opts.Format, s.cart.State())
			})
		},
	}
}
