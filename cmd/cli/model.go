package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/nazeru/storefront-tx-go/internal/auth"
	"github.com/nazeru/storefront-tx-go/internal/cart"
	"github.com/nazeru/storefront-tx-go/internal/client"
	"github.com/nazeru/storefront-tx-go/internal/httpapi"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/projection"
)

type backend interface {
	Products(ctx context.Context) ([]domain.Product, error)
	Checkout(ctx context.Context, items []domain.CartItem, key string) (httpapi.CheckoutResponse, error)
	MyOrders(ctx context.Context) ([]domain.Order, error)
	AllOrders(ctx context.Context) ([]projection.OrderView, error)
	UpdateStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error
}

var _ backend = (*client.Client)(nil)

type tab int

const (
	tabProducts tab = iota
	tabCart
	tabOrders
	tabAdmin
)

var tabNames = []string{"Products", "Cart", "My orders", "Admin"}

const callTimeout = 10 * time.Second

type model struct {
	api     backend
	cart    *cart.Cart
	session *auth.Session
	userID  domain.UserID
	role    domain.Role
	updates <-chan *domain.Principal

	principal *domain.Principal
	tab       tab
	cursor    int
	products  []domain.Product
	orders    []domain.Order
	board     *projection.Board

	isCheckingOut bool
	status        string
}

func initialModel(api backend, c *cart.Cart, sess *auth.Session, user domain.UserID, role domain.Role) model {
	ch, _ := sess.Subscribe()
	return model{
		api:     api,
		cart:    c,
		session: sess,
		userID:  user,
		role:    role,
		updates: ch,
		board:   projection.NewBoard(nil),
		status:  "Ready",
	}
}

type (
	principalMsg struct{ p *domain.Principal }
	productsMsg  struct {
		products []domain.Product
		err      error
	}
	ordersMsg struct {
		orders []domain.Order
		err    error
	}
	boardMsg struct {
		rows []projection.OrderView
		err  error
	}
	checkoutMsg struct {
		res httpapi.CheckoutResponse
		err error
	}
	statusMsg struct {
		id     domain.OrderID
		status domain.OrderStatus
		err    error
	}
)

func (m model) Init() tea.Cmd {
	return tea.Batch(waitPrincipal(m.updates), loadProducts(m.api))
}

func waitPrincipal(ch <-chan *domain.Principal) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return principalMsg{p: p}
	}
}

func loadProducts(api backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		ps, err := api.Products(ctx)
		return productsMsg{products: ps, err: err}
	}
}

func loadOrders(api backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		orders, err := api.MyOrders(ctx)
		return ordersMsg{orders: orders, err: err}
	}
}

func loadBoard(api backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		rows, err := api.AllOrders(ctx)
		return boardMsg{rows: rows, err: err}
	}
}

func checkout(api backend, items []domain.CartItem) tea.Cmd {
	key := uuid.NewString()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		res, err := api.Checkout(ctx, items, key)
		return checkoutMsg{res: res, err: err}
	}
}

func changeStatus(api backend, board *projection.Board, id domain.OrderID, st domain.OrderStatus) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		err := projection.RunOptimistic(ctx, &projection.StatusChange{Board: board, OrderID: id, Status: st, Remote: api.UpdateStatus})
		return statusMsg{id: id, status: st, err: err}
	}
}

// nextStatus is the status the admin board advances an order to.
func nextStatus(s domain.OrderStatus) domain.OrderStatus {
	switch s {
	case domain.OrderStatusPending:
		return domain.OrderStatusShipped
	case domain.OrderStatusShipped:
		return domain.OrderStatusDelivered
	case domain.OrderStatusDelivered:
		return domain.OrderStatusCancelled
	}
	return domain.OrderStatusPending
}

// message turns an error into text for the status line.
func message(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return domain.UserMessage(err)
}

func (m model) tabs() []tab {
	ts := []tab{tabProducts, tabCart, tabOrders}
	if m.principal.IsAdmin() {
		ts = append(ts, tabAdmin)
	}
	return ts
}

func (m model) rows() int {
	switch m.tab {
	case tabProducts:
		return len(m.products)
	case tabCart:
		if s, err := m.cart.Snapshot(); err == nil {
			return len(s.Items())
		}
	case tabOrders:
		return len(m.orders)
	case tabAdmin:
		return len(m.board.Rows())
	}
	return 0
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.key(msg.String())
	case principalMsg:
		m.principal = msg.p
		if m.tab == tabAdmin && !m.principal.IsAdmin() {
			m.tab, m.cursor = tabProducts, 0
		}
		return m, waitPrincipal(m.updates)
	case productsMsg:
		if msg.err != nil {
			m.status = "Could not load products: " + message(msg.err)
			return m, nil
		}
		m.products = msg.products
	case ordersMsg:
		if msg.err != nil {
			m.status = "Could not load orders: " + message(msg.err)
			return m, nil
		}
		m.orders = msg.orders
	case boardMsg:
		if msg.err != nil {
			m.status = "Could not load orders: " + message(msg.err)
			return m, nil
		}
		m.board.Reset(msg.rows)
	case checkoutMsg:
		m.isCheckingOut = false
		if msg.err != nil {
			m.status = "Checkout failed: " + message(msg.err)
			return m, nil
		}
		if err := m.cart.Clear(); err != nil {
			m.status = "Order placed but the cart could not be cleared: " + err.Error()
		} else if msg.res.Total != nil {
			m.status = fmt.Sprintf("Order %s placed. Total $%s", msg.res.OrderID, msg.res.Total.StringFixed(2))
		} else {
			m.status = fmt.Sprintf("Order %s placed", msg.res.OrderID)
		}
		return m, tea.Batch(loadProducts(m.api), loadOrders(m.api))
	case statusMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Status update for %s failed: %s", msg.id, message(msg.err))
			return m, nil
		}
		m.status = fmt.Sprintf("Order %s is now %s", msg.id, msg.status)
	}
	return m, nil
}

// The cart is cleared when a checkout succeeds, so it must not change while
// one is in flight.
const cartLocked = "Checkout in progress, the cart is locked"

func (m model) key(k string) (tea.Model, tea.Cmd) {
	switch k {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab", "shift+tab":
		ts := m.tabs()
		i := 0
		for j, t := range ts {
			if t == m.tab {
				i = j
			}
		}
		if k == "tab" {
			i = (i + 1) % len(ts)
		} else {
			i = (i - 1 + len(ts)) % len(ts)
		}
		m.tab, m.cursor = ts[i], 0
		return m, m.refresh()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.rows()-1 {
			m.cursor++
		}
	case "r":
		return m, m.refresh()
	case "o":
		if m.principal.Authenticated() {
			m.session.SignOut()
			m.status = "Signed out"
		} else {
			m.session.SignIn(domain.Principal{ID: m.userID, Role: m.role})
			m.status = "Signed in as " + string(m.userID)
		}
	case "enter", "a":
		if m.isCheckingOut {
			m.status = cartLocked
			return m, nil
		}
		if m.tab == tabProducts && m.cursor < len(m.products) {
			p := m.products[m.cursor]
			if p.Stock <= 0 {
				m.status = p.Name + " is out of stock"
				return m, nil
			}
			if err := m.cart.AddItem(p.CartItem(1), 1); err != nil {
				m.status = err.Error()
				return m, nil
			}
			m.status = "Added " + p.Name
		}
	case "+", "-", "d":
		if m.tab != tabCart {
			return m, nil
		}
		if m.isCheckingOut {
			m.status = cartLocked
			return m, nil
		}
		s, err := m.cart.Snapshot()
		if err != nil || m.cursor >= len(s.Items()) {
			return m, nil
		}
		it := s.Items()[m.cursor]
		switch k {
		case "+":
			err = m.cart.UpdateQuantity(it.ID, it.Quantity+1)
		case "-":
			err = m.cart.UpdateQuantity(it.ID, it.Quantity-1)
		case "d":
			err = m.cart.RemoveItem(it.ID)
		}
		if err != nil {
			m.status = err.Error()
		}
		if m.cursor >= m.rows() && m.cursor > 0 {
			m.cursor--
		}
	case "c":
		if m.isCheckingOut {
			return m, nil
		}
		if !m.principal.Authenticated() {
			m.status = domain.UserMessage(domain.ErrUnauthorized)
			return m, nil
		}
		s, err := m.cart.Snapshot()
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		if s.Empty() {
			m.status = domain.UserMessage(domain.ErrEmptyCart)
			return m, nil
		}
		m.isCheckingOut = true
		m.status = "Checking out..."
		return m, checkout(m.api, s.Items())
	case "s":
		if m.tab != tabAdmin {
			return m, nil
		}
		rows := m.board.Rows()
		if m.cursor >= len(rows) {
			return m, nil
		}
		row := rows[m.cursor]
		next := nextStatus(row.Status)
		m.status = fmt.Sprintf("Updating %s to %s...", row.ID, next)
		return m, changeStatus(m.api, m.board, row.ID, next)
	}
	return m, nil
}

func (m model) refresh() tea.Cmd {
	switch m.tab {
	case tabProducts:
		return loadProducts(m.api)
	case tabOrders:
		return loadOrders(m.api)
	case tabAdmin:
		return loadBoard(m.api)
	}
	return nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "storefront")
	who := "signed out"
	if m.principal.Authenticated() {
		who = "signed in as " + string(m.principal.ID)
		if m.principal.IsAdmin() {
			who += " (admin)"
		}
	}
	fmt.Fprintln(b, who)
	fmt.Fprintln(b, "")

	var names []string
	for _, t := range m.tabs() {
		name := tabNames[t]
		if t == m.tab {
			name = "[" + name + "]"
		}
		names = append(names, name)
	}
	fmt.Fprintln(b, strings.Join(names, "  "))
	fmt.Fprintln(b, "")

	marker := func(i int) string {
		if i == m.cursor {
			return ">"
		}
		return " "
	}
	switch m.tab {
	case tabProducts:
		for i, p := range m.products {
			fmt.Fprintf(b, " %s %-24s $%8s  stock %d\n", marker(i), p.Name, p.Price.StringFixed(2), p.Stock)
		}
	case tabCart:
		s, err := m.cart.Snapshot()
		if err != nil {
			fmt.Fprintln(b, "  loading cart...")
			break
		}
		if s.Empty() {
			fmt.Fprintln(b, "  Your cart is empty.")
		}
		for i, it := range s.Items() {
			fmt.Fprintf(b, " %s %-24s x%-3d $%8s\n", marker(i), it.Name, it.Quantity, it.LineTotal().StringFixed(2))
		}
		fmt.Fprintf(b, "\n  %d items, total $%s\n", s.ItemCount(), s.TotalPrice().StringFixed(2))
		if m.isCheckingOut {
			fmt.Fprintln(b, "  checkout in progress")
		}
	case tabOrders:
		if len(m.orders) == 0 {
			fmt.Fprintln(b, "  No orders yet.")
		}
		for i, o := range m.orders {
			fmt.Fprintf(b, " %s %s  %-9s $%8s  %s\n", marker(i), o.CreatedAt.Format("2006-01-02"), o.Status, o.Total.StringFixed(2), o.ID)
		}
	case tabAdmin:
		for i, o := range m.board.Rows() {
			fmt.Fprintf(b, " %s %-20s %-9s $%8s  %s\n", marker(i), o.CustomerName, o.Status, o.Total.StringFixed(2), o.ID)
		}
	}

	fmt.Fprintf(b, "\nStatus: %s\n", m.status)
	fmt.Fprintln(b, "\nControls: tab switch view, up/down select, a add, +/- qty, d remove, c checkout, s advance status, r refresh, o sign in/out, q quit")
	return b.String()
}
