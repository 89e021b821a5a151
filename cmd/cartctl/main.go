// Command cartctl is a terminal storefront: it browses the catalog and edits
// the signed-in user's cart through the same sync core the mobile app uses.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/zeusync/cartsync/internal/catalog"
	"github.com/zeusync/cartsync/internal/config"
	"github.com/zeusync/cartsync/internal/core/reconciler"
	"github.com/zeusync/cartsync/internal/core/remote"
	"github.com/zeusync/cartsync/internal/core/session"
	"github.com/zeusync/cartsync/internal/injector"
	"github.com/zeusync/cartsync/sdk/go/client"
)

const usage = `usage: cartctl [flags] <command> [args]

commands:
  products [category]     list the catalog
  cart                    show the cart
  add <product> [qty]     add a product (qty defaults to 1)
  update <product> <qty>  change a quantity
  remove <product>        remove a line
  watch                   print every cart change until interrupted
  logout                  end the session and forget the device copy
`

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to the yaml config")
	user := flag.String("user", os.Getenv(config.EnvPrefix+"USER"), "user uid to sign in as")
	timeout := flag.Duration("timeout", 20*time.Second, "time limit for one command")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = run(ctx, cfg, *user, *timeout, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, user string, timeout time.Duration, args []string, out io.Writer) error {
	c, cleanup, err := injector.InitializeClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	if err = c.Connect(ctx); err != nil {
		return err
	}

	cmd, args := args[0], args[1:]
	if cmd == "watch" {
		if err = login(ctx, c, cfg, user, timeout); err != nil {
			return err
		}
		return watch(ctx, c, out)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if cmd == "products" {
		category := catalog.AllCategory
		if len(args) > 0 {
			category = args[0]
		}
		return products(ctx, c, category, out)
	}

	if err = login(ctx, c, cfg, user, timeout); err != nil {
		return err
	}

	switch cmd {
	case "cart":
	case "add":
		if len(args) < 1 {
			return errors.New("add needs a product id")
		}
		qty := 1
		if len(args) > 1 {
			if qty, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("quantity: %w", err)
			}
		}
		err = c.Add(ctx, args[0], qty)
	case "update":
		if len(args) < 2 {
			return errors.New("update needs a product id and a quantity")
		}
		qty, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("quantity: %w", convErr)
		}
		err = c.Update(ctx, args[0], qty)
	case "remove":
		if len(args) < 1 {
			return errors.New("remove needs a product id")
		}
		err = c.Remove(ctx, args[0])
	case "logout":
		if err = c.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Signed out.")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	printCart(out, c.Cart())
	if remote.IsRemoteError(err) {
		// already shown as the cart's last error; the change is kept locally
		return nil
	}
	return err
}

func login(ctx context.Context, c *client.Client, cfg config.Config, user string, timeout time.Duration) error {
	if user == "" {
		return errors.New("no user: pass -user or set " + config.EnvPrefix + "USER")
	}
	if err := c.Login(session.Identity{UserUID: user, Token: cfg.Remote.Websocket.Token}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := c.WaitSynced(ctx)
	return err
}

func products(ctx context.Context, c *client.Client, category string, out io.Writer) error {
	listing, err := c.Products(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tPRICE")
	for _, p := range listing.Filter(category) {
		fmt.Fprintf(w, "%s\t%s\t%s\t$%s\n", p.ID, p.Title, p.Category, p.Price.StringFixed(2))
	}
	fmt.Fprintf(w, "\ncategories: %v\n", listing.Categories)
	return w.Flush()
}

func watch(ctx context.Context, c *client.Client, out io.Writer) error {
	c.OnEvent(client.EventTypeStateChanged, func(e client.Event) error {
		printCart(out, e.State)
		return nil
	})
	printCart(out, c.Cart())
	<-ctx.Done()
	return nil
}

func printCart(out io.Writer, s reconciler.State) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Cart (%d) [%s, %s]\n", s.Cart.Count(), s.Phase, s.Mode)
	if s.Cart.IsEmpty() {
		if s.LastError != "" {
			fmt.Fprintln(w, s.LastError)
		} else {
			fmt.Fprintln(w, "Your cart is empty.")
		}
		_ = w.Flush()
		return
	}
	for _, id := range s.Cart.ProductIDs() {
		line, _ := s.Cart.Line(id)
		fmt.Fprintf(w, "%s\t%s\tx%d\t$%s\n", id, line.Product.Title, line.Quantity, line.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(w, "Total\t\t\t$%s\n", s.Cart.Total().StringFixed(2))
	if s.LastError != "" {
		fmt.Fprintln(w, s.LastError)
	}
	_ = w.Flush()
}
