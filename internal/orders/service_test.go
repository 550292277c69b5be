package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/clock"
	"github.com/ariefcatur/go-storefront-orders/internal/memstore"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyOrderCreated(ctx context.Context, o orders.Order, buyer orders.Principal) {
	m.Called(ctx, o, buyer)
}

func (m *MockNotifier) NotifyOrderCancelled(ctx context.Context, o orders.Order, buyer orders.Principal) {
	m.Called(ctx, o, buyer)
}

func (m *MockNotifier) NotifyOrderStatusChanged(ctx context.Context, o orders.Order, buyer orders.Principal) {
	m.Called(ctx, o, buyer)
}

var (
	now    = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	alice  = orders.Principal{UserID: "user-alice", Name: "Alice", Email: "alice@example.com", Role: orders.RoleUser}
	bob    = orders.Principal{UserID: "user-bob", Name: "Bob", Email: "bob@example.com", Role: orders.RoleUser}
	admin  = orders.Principal{UserID: "user-admin", Name: "Admin", Email: "admin@example.com", Role: orders.RoleAdmin}
	dhaka  = orders.ShippingAddress{Address: "12 Road 5", City: "Dhaka", PostalCode: "1207", Country: "Bangladesh"}
	ctgAdr = orders.ShippingAddress{Address: "3 Agrabad", City: "Chittagong", PostalCode: "4100", Country: "Bangladesh"}
)

func newStore(products ...orders.Product) *memstore.Store {
	st := memstore.New()
	for _, p := range products {
		st.AddProduct(p)
	}
	st.AddUser(alice)
	st.AddUser(bob)
	st.AddUser(admin)
	return st
}

func product(id string, price string, stock int) orders.Product {
	return orders.Product{ID: id, Name: "Product " + id, Price: dec(price), Stock: stock}
}

func newService(st *memstore.Store) *orders.Service {
	return orders.NewService(st, nil, orders.WithClock(clock.NewFixed(now)), orders.WithUserDirectory(st))
}

func stockOf(t *testing.T, st *memstore.Store, id string) int {
	t.Helper()
	p, ok := st.Product(id)
	require.True(t, ok, "product %s missing", id)
	return p.Stock
}

func placeInput(buyer orders.Principal, items ...orders.LineItem) orders.PlaceOrderInput {
	return orders.PlaceOrderInput{
		Buyer:           buyer,
		Items:           items,
		ShippingAddress: dhaka,
		PaymentMethod:   orders.PaymentCashOnDelivery,
	}
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()

	t.Run("commits order with server prices", func(t *testing.T) {
		st := newStore(product("p1", "100", 5), product("p2", "50.50", 3))
		notifier := new(MockNotifier)
		notifier.On("NotifyOrderCreated", mock.Anything, mock.Anything, alice).Once()
		svc := orders.NewService(st, notifier, orders.WithClock(clock.NewFixed(now)))

		o, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
			Buyer:           alice,
			Items:           []orders.LineItem{{ProductID: "p2", Quantity: 2}, {ProductID: "p1", Quantity: 1}},
			ShippingAddress: ctgAdr,
			PaymentMethod:   orders.PaymentOnline,
			TransactionID:   " TX-991 ",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, o.ID)
		assert.Equal(t, alice.UserID, o.UserID)
		assert.Equal(t, orders.StatusPending, o.Status)
		assert.Equal(t, "201.00", o.Subtotal.StringFixed(2))
		assert.Equal(t, "20.10", o.Tax.StringFixed(2))
		assert.Equal(t, "150.00", o.ShippingCost.StringFixed(2))
		assert.Equal(t, "371.10", o.Total.StringFixed(2))
		require.NotNil(t, o.TransactionID)
		assert.Equal(t, "TX-991", *o.TransactionID)
		assert.Equal(t, now, o.CreatedAt)
		require.Len(t, o.Items, 2)
		assert.Equal(t, "p1", o.Items[0].ProductID)
		assert.Equal(t, "100.00", o.Items[0].Price.StringFixed(2))
		assert.Equal(t, "p2", o.Items[1].ProductID)
		assert.Equal(t, 2, o.Items[1].Quantity)

		assert.Equal(t, 4, stockOf(t, st, "p1"))
		assert.Equal(t, 1, stockOf(t, st, "p2"))

		stored, err := st.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.True(t, stored.Total.Equal(o.Total))
		notifier.AssertExpectations(t)
	})

	t.Run("merges repeated products", func(t *testing.T) {
		st := newStore(product("p1", "10", 5))
		svc := newService(st)

		o, err := svc.PlaceOrder(context.Background(), placeInput(alice,
			orders.LineItem{ProductID: "p1", Quantity: 2},
			orders.LineItem{ProductID: "p1", Quantity: 3},
		))
		require.NoError(t, err)
		require.Len(t, o.Items, 1)
		assert.Equal(t, 5, o.Items[0].Quantity)
		assert.Equal(t, 0, stockOf(t, st, "p1"))
	})

	t.Run("validation errors touch nothing", func(t *testing.T) {
		tests := []struct {
			name string
			in   orders.PlaceOrderInput
			want error
		}{
			{name: "no items", in: placeInput(alice), want: orders.ErrNoItems},
			{name: "zero quantity", in: placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 0}), want: orders.ErrInvalidQuantity},
			{name: "negative quantity", in: placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: -2}), want: orders.ErrInvalidQuantity},
			{name: "blank product id", in: placeInput(alice, orders.LineItem{ProductID: " ", Quantity: 1}), want: orders.ErrInvalidLineItem},
			{name: "anonymous buyer", in: placeInput(orders.Principal{}, orders.LineItem{ProductID: "p1", Quantity: 1}), want: orders.ErrForbidden},
			{
				name: "blank city",
				in: orders.PlaceOrderInput{
					Buyer:           alice,
					Items:           []orders.LineItem{{ProductID: "p1", Quantity: 1}},
					ShippingAddress: orders.ShippingAddress{Address: "x", City: "  ", PostalCode: "1", Country: "BD"},
					PaymentMethod:   orders.PaymentCashOnDelivery,
				},
				want: orders.ErrInvalidShippingAddress,
			},
			{
				name: "unknown payment method",
				in: orders.PlaceOrderInput{
					Buyer:           alice,
					Items:           []orders.LineItem{{ProductID: "p1", Quantity: 1}},
					ShippingAddress: dhaka,
					PaymentMethod:   "Bitcoin",
				},
				want: orders.ErrInvalidPaymentMethod,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				st := newStore(product("p1", "10", 5))
				svc := newService(st)

				_, err := svc.PlaceOrder(context.Background(), tt.in)
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, 5, stockOf(t, st, "p1"))
				assert.Zero(t, st.OrderCount())
			})
		}
	})

	t.Run("missing address field is named", func(t *testing.T) {
		svc := newService(newStore(product("p1", "10", 5)))
		in := placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 1})
		in.ShippingAddress.PostalCode = ""

		_, err := svc.PlaceOrder(context.Background(), in)
		var ve *orders.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "shippingAddress.postalCode", ve.Field)
	})

	t.Run("unknown and deleted products are named", func(t *testing.T) {
		st := newStore(product("p1", "10", 5), product("gone", "10", 5))
		st.SoftDelete("gone")
		svc := newService(st)

		_, err := svc.PlaceOrder(context.Background(), placeInput(alice,
			orders.LineItem{ProductID: "p1", Quantity: 1},
			orders.LineItem{ProductID: "gone", Quantity: 1},
			orders.LineItem{ProductID: "nope", Quantity: 1},
		))
		require.ErrorIs(t, err, orders.ErrProductNotFound)
		assert.Contains(t, err.Error(), "gone")
		assert.Contains(t, err.Error(), "nope")
		assert.Equal(t, 5, stockOf(t, st, "p1"))
		assert.Zero(t, st.OrderCount())
	})

	t.Run("insufficient stock reports shortfall", func(t *testing.T) {
		st := newStore(product("p1", "10", 2))
		svc := newService(st)

		_, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 5}))
		require.ErrorIs(t, err, orders.ErrInsufficientStock)
		assert.NotErrorIs(t, err, orders.ErrTransactionConflict)

		var se *orders.StockError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "p1", se.ProductID)
		assert.Equal(t, 3, se.Shortfall())
		assert.Equal(t, 2, stockOf(t, st, "p1"))
	})

	t.Run("ignores nothing from the client but ids and quantities", func(t *testing.T) {
		st := newStore(product("p1", "999.99", 1))
		svc := newService(st)

		o, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 1}))
		require.NoError(t, err)
		assert.Equal(t, "999.99", o.Items[0].Price.StringFixed(2))
		assert.Equal(t, "1199.99", o.Total.StringFixed(2))
	})
}

// P2: a failure partway through a multi-item order leaves no trace.
func TestPlaceOrder_Atomicity(t *testing.T) {
	t.Parallel()

	t.Run("storage failure on insert rolls back decrements", func(t *testing.T) {
		st := newStore(product("p1", "10", 5), product("p2", "20", 5))
		st.FailNextCreate(errors.New("connection reset"))
		notifier := new(MockNotifier)
		svc := orders.NewService(st, notifier)

		_, err := svc.PlaceOrder(context.Background(), placeInput(alice,
			orders.LineItem{ProductID: "p1", Quantity: 2},
			orders.LineItem{ProductID: "p2", Quantity: 3},
		))
		require.Error(t, err)
		assert.Equal(t, 5, stockOf(t, st, "p1"))
		assert.Equal(t, 5, stockOf(t, st, "p2"))
		assert.Zero(t, st.OrderCount())
		notifier.AssertNotCalled(t, "NotifyOrderCreated", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("in-transaction shortfall on second item rolls back first", func(t *testing.T) {
		st := newStore(product("a", "10", 5), product("b", "20", 5))
		svc := orders.NewService(&drainingStore{Store: st, drain: "b"}, nil)

		_, err := svc.PlaceOrder(context.Background(), placeInput(alice,
			orders.LineItem{ProductID: "a", Quantity: 2},
			orders.LineItem{ProductID: "b", Quantity: 3},
		))
		require.ErrorIs(t, err, orders.ErrInsufficientStock)
		require.ErrorIs(t, err, orders.ErrTransactionConflict)
		assert.Equal(t, 5, stockOf(t, st, "a"))
		assert.Equal(t, 0, stockOf(t, st, "b"))
		assert.Zero(t, st.OrderCount())
	})
}

// drainingStore empties one product between the preliminary check and the
// locked re-check, simulating a concurrent order winning the race.
type drainingStore struct {
	*memstore.Store
	drain string
	once  sync.Once
}

func (d *drainingStore) LockProduct(ctx context.Context, id string) (orders.Product, error) {
	if id == d.drain {
		d.once.Do(func() {
			p, _ := d.Store.Product(id)
			_ = d.Store.DecrementStock(context.Background(), id, p.Stock)
		})
	}
	return d.Store.LockProduct(ctx, id)
}

// P1: N concurrent placements of q units against stock S.
func TestPlaceOrder_NoOverselling(t *testing.T) {
	t.Parallel()

	const (
		stock = 10
		qty   = 3
		n     = 12
	)
	st := newStore(product("hot", "5", stock))
	svc := newService(st)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
		badErrs  []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "hot", Quantity: qty}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, orders.ErrInsufficientStock):
				fail++
			default:
				badErrs = append(badErrs, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, badErrs)
	assert.Equal(t, stock/qty, ok)
	assert.Equal(t, n-stock/qty, fail)
	assert.Equal(t, stock%qty, stockOf(t, st, "hot"))
	assert.Equal(t, stock/qty, st.OrderCount())
}

// Two buyers race for the last unit.
func TestPlaceOrder_LastUnitRace(t *testing.T) {
	t.Parallel()

	st := newStore(product("last", "42", 1))
	svc := newService(st)

	errs := make(chan error, 2)
	start := make(chan struct{})
	for _, buyer := range []orders.Principal{alice, bob} {
		go func(b orders.Principal) {
			<-start
			_, err := svc.PlaceOrder(context.Background(), placeInput(b, orders.LineItem{ProductID: "last", Quantity: 1}))
			errs <- err
		}(buyer)
	}
	close(start)

	var succeeded, insufficient int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		if errors.Is(err, orders.ErrInsufficientStock) {
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 0, stockOf(t, st, "last"))
}

// P3: live price changes never reach placed orders.
func TestPlaceOrder_PriceSnapshot(t *testing.T) {
	t.Parallel()

	st := newStore(product("p1", "100", 10))
	svc := newService(st)

	placed, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 2}))
	require.NoError(t, err)

	st.SetPrice("p1", dec("250"))
	st.SoftDelete("p1")

	got, err := svc.GetOrder(context.Background(), placed.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.Items[0].Price.StringFixed(2))
	assert.Equal(t, "320.00", got.Total.StringFixed(2))
}

// P4 and P5.
func TestCancel(t *testing.T) {
	t.Parallel()

	t.Run("restores stock once", func(t *testing.T) {
		st := newStore(product("p1", "10", 10), product("p2", "20", 10))
		notifier := new(MockNotifier)
		notifier.On("NotifyOrderCreated", mock.Anything, mock.Anything, mock.Anything)
		notifier.On("NotifyOrderCancelled", mock.Anything, mock.MatchedBy(func(o orders.Order) bool {
			return o.Status == orders.StatusCancelled
		}), alice).Once()
		svc := orders.NewService(st, notifier, orders.WithClock(clock.NewFixed(now)))

		placed, err := svc.PlaceOrder(context.Background(), placeInput(alice,
			orders.LineItem{ProductID: "p1", Quantity: 2},
			orders.LineItem{ProductID: "p2", Quantity: 3},
		))
		require.NoError(t, err)
		require.Equal(t, 8, stockOf(t, st, "p1"))
		require.Equal(t, 7, stockOf(t, st, "p2"))

		cancelled, err := svc.Cancel(context.Background(), placed.ID, alice)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCancelled, cancelled.Status)
		assert.Equal(t, 10, stockOf(t, st, "p1"))
		assert.Equal(t, 10, stockOf(t, st, "p2"))

		_, err = svc.Cancel(context.Background(), placed.ID, alice)
		require.ErrorIs(t, err, orders.ErrOrderAlreadyCancelled)
		assert.Equal(t, 10, stockOf(t, st, "p1"))
		assert.Equal(t, 10, stockOf(t, st, "p2"))

		stored, err := st.GetOrder(context.Background(), placed.ID)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCancelled, stored.Status)
		notifier.AssertExpectations(t)
	})

	t.Run("delivered order cannot be cancelled", func(t *testing.T) {
		st := newStore(product("p1", "10", 10))
		svc := newService(st)

		placed, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 4}))
		require.NoError(t, err)
		_, err = svc.UpdateStatus(context.Background(), placed.ID, orders.StatusDelivered, admin)
		require.NoError(t, err)

		_, err = svc.Cancel(context.Background(), placed.ID, admin)
		require.ErrorIs(t, err, orders.ErrOrderDelivered)
		assert.Equal(t, 6, stockOf(t, st, "p1"))
	})

	t.Run("admin may cancel and owner is notified", func(t *testing.T) {
		st := newStore(product("p1", "10", 10))
		notifier := new(MockNotifier)
		notifier.On("NotifyOrderCreated", mock.Anything, mock.Anything, mock.Anything)
		notifier.On("NotifyOrderCancelled", mock.Anything, mock.Anything, alice).Once()
		svc := orders.NewService(st, notifier, orders.WithUserDirectory(st))

		placed, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 1}))
		require.NoError(t, err)

		_, err = svc.Cancel(context.Background(), placed.ID, admin)
		require.NoError(t, err)
		notifier.AssertExpectations(t)
	})

	t.Run("other users are forbidden", func(t *testing.T) {
		st := newStore(product("p1", "10", 10))
		svc := newService(st)

		placed, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 1}))
		require.NoError(t, err)

		_, err = svc.Cancel(context.Background(), placed.ID, bob)
		require.ErrorIs(t, err, orders.ErrForbidden)
		assert.Equal(t, 9, stockOf(t, st, "p1"))
	})

	t.Run("unknown order", func(t *testing.T) {
		svc := newService(newStore())
		_, err := svc.Cancel(context.Background(), "missing", alice)
		require.ErrorIs(t, err, orders.ErrOrderNotFound)
	})

	t.Run("soft-deleted product still gets stock back", func(t *testing.T) {
		st := newStore(product("p1", "10", 3))
		svc := newService(st)

		placed, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 3}))
		require.NoError(t, err)
		st.SoftDelete("p1")

		_, err = svc.Cancel(context.Background(), placed.ID, alice)
		require.NoError(t, err)
		assert.Equal(t, 3, stockOf(t, st, "p1"))
	})

	t.Run("concurrent cancels credit stock once", func(t *testing.T) {
		st := newStore(product("p1", "10", 5))
		svc := newService(st)

		placed, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 5}))
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Cancel(context.Background(), placed.ID, alice)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var ok int
		for err := range results {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, orders.ErrOrderAlreadyCancelled)
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 5, stockOf(t, st, "p1"))
	})
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	st := newStore(product("p1", "10", 10))
	notifier := new(MockNotifier)
	notifier.On("NotifyOrderCreated", mock.Anything, mock.Anything, mock.Anything)
	notifier.On("NotifyOrderStatusChanged", mock.Anything, mock.Anything, alice)
	svc := orders.NewService(st, notifier, orders.WithUserDirectory(st))

	placed, err := svc.PlaceOrder(context.Background(), placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.UpdateStatus(ctx, placed.ID, orders.StatusProcessing, alice)
	require.ErrorIs(t, err, orders.ErrForbidden)

	_, err = svc.UpdateStatus(ctx, placed.ID, orders.StatusCancelled, admin)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, placed.ID, "LOST", admin)
	require.ErrorIs(t, err, orders.ErrInvalidStatus)

	o, err := svc.UpdateStatus(ctx, placed.ID, orders.StatusShipped, admin)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, o.Status)

	_, err = svc.UpdateStatus(ctx, placed.ID, orders.StatusProcessing, admin)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, placed.ID, orders.StatusDelivered, admin)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, placed.ID, orders.StatusOnTheWay, admin)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, "missing", orders.StatusShipped, admin)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)

	notifier.AssertNumberOfCalls(t, "NotifyOrderStatusChanged", 2)
}

func TestQueries(t *testing.T) {
	t.Parallel()

	st := newStore(product("p1", "10", 10))
	svc := newService(st)
	ctx := context.Background()

	mine, err := svc.PlaceOrder(ctx, placeInput(alice, orders.LineItem{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)
	_, err = svc.PlaceOrder(ctx, placeInput(bob, orders.LineItem{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	list, err := svc.ListMyOrders(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	_, err = svc.ListOrders(ctx, alice)
	require.ErrorIs(t, err, orders.ErrForbidden)

	all, err := svc.ListOrders(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.GetOrder(ctx, mine.ID, bob)
	require.ErrorIs(t, err, orders.ErrForbidden)

	got, err := svc.GetOrder(ctx, mine.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)
}

func TestRejectReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "validation", orders.RejectReason(orders.ErrNoItems))
	assert.Equal(t, "validation", orders.RejectReason(&orders.ValidationError{Field: "x", Err: orders.ErrInvalidShippingAddress}))
	assert.Equal(t, "product_not_found", orders.RejectReason(errors.Join(&orders.ProductError{ProductID: "a"})))
	assert.Equal(t, "insufficient_stock", orders.RejectReason(&orders.StockError{ProductID: "a"}))
	assert.Equal(t, "conflict", orders.RejectReason(&orders.StockError{ProductID: "a", Retryable: true}))
	assert.Equal(t, "error", orders.RejectReason(errors.New("boom")))
}
