package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/nazeru/storefront-tx-go/internal/auth"
	"github.com/nazeru/storefront-tx-go/internal/cart"
	"github.com/nazeru/storefront-tx-go/internal/client"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

func main() {
	runCmd := flag.String("run", "", "run one command and exit: products|cart|add|clear|checkout|orders|admin-orders|sales")
	user := flag.String("user", getenv("USER_ID", ""), "user id to sign in as")
	admin := flag.Bool("admin", false, "show the admin board (the server still checks the role)")
	product := flag.String("product", "", "product id for -run add")
	qty := flag.Int("qty", 1, "quantity for -run add")
	flag.Parse()

	baseURL := getenv("ORDER_BASE_URL", "http://localhost:8080")
	session := getenv("CART_SESSION", *user)
	if session == "" {
		session = "guest"
	}

	store, err := cart.OpenPebble(cartDir())
	if err != nil {
		fmt.Println("error: open cart:", err)
		os.Exit(1)
	}
	c := cart.New(store, session)
	if err := c.Load(context.Background()); err != nil {
		fmt.Println("warning: cart was unreadable and starts empty:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Flush(ctx)
		c.Close()
		_ = store.Close()
	}()

	sess := auth.NewSession()
	role := domain.RoleUser
	if *admin {
		role = domain.RoleAdmin
	}
	if *user != "" {
		sess.SignIn(domain.Principal{ID: domain.UserID(*user), Role: role})
	}
	api := client.New(baseURL, sess, 0)

	if *runCmd != "" {
		out, err := runOnce(context.Background(), api, c, *runCmd, domain.ProductID(*product), *qty)
		if err != nil {
			fmt.Println("error:", message(err))
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	userID := domain.UserID(*user)
	if userID == "" {
		userID = "guest"
	}
	p := tea.NewProgram(initialModel(api, c, sess, userID, role))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

// runOnce executes a single non-interactive command.
func runOnce(ctx context.Context, api *client.Client, c *cart.Cart, cmd string, product domain.ProductID, qty int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	switch cmd {
	case "products":
		return encode(api.Products(ctx))
	case "cart":
		s, err := c.Snapshot()
		if err != nil {
			return "", err
		}
		items, err := encode(s.Items(), nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d items, total $%s\n%s", s.ItemCount(), s.TotalPrice().StringFixed(2), items), nil
	case "add":
		ps, err := api.Products(ctx)
		if err != nil {
			return "", err
		}
		for _, p := range ps {
			if p.ID == product {
				if err := c.AddItem(p.CartItem(qty), qty); err != nil {
					return "", err
				}
				return fmt.Sprintf("added %d x %s", qty, p.Name), nil
			}
		}
		return "", &domain.ProductNotFoundError{ProductID: product}
	case "clear":
		return "cart cleared", c.Clear()
	case "checkout":
		s, err := c.Snapshot()
		if err != nil {
			return "", err
		}
		if s.Empty() {
			return "", domain.ErrEmptyCart
		}
		res, err := api.Checkout(ctx, s.Items(), uuid.NewString())
		if err != nil {
			return "", err
		}
		if err := c.Clear(); err != nil {
			return "", err
		}
		return encode(res, nil)
	case "orders":
		return encode(api.MyOrders(ctx))
	case "admin-orders":
		return encode(api.AllOrders(ctx))
	case "sales":
		return encode(api.Sales(ctx))
	}
	return "", errors.New("unknown command: " + cmd)
}

func encode(v any, err error) (string, error) {
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func cartDir() string {
	if dir := getenv("CART_DIR", ""); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "storefront", "cart")
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
