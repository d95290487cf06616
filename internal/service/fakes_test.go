package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory stand-in for store.Store with the same release rules
type fakeStore struct {
	mu           sync.Mutex
	renters      map[int64]*models.RenterProfile
	vehicles     map[int64]*models.Vehicle
	windows      map[int64]*models.VehicleStatus
	discounts    map[int64]*models.Discount
	orders       map[int64]*models.Order
	transactions map[int64]*models.Transaction

	// failFor makes per-order writes fail for the given order ids
	failFor map[int64]error
	// failList makes the sweep selection queries fail
	failList error
	// holding lists the statuses that keep a vehicle claimed on release
	holding []string
	// afterGet runs once after the next GetOrderByID, outside the lock
	afterGet func(id int64)
}

var (
	fakeCancellable = []string{models.OrderStatusDraft, models.OrderStatusPaymentPending, models.OrderStatusApprovalPending}
	fakePayable     = []string{models.OrderStatusPaymentPending, models.OrderStatusApprovalPending}
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		renters:      map[int64]*models.RenterProfile{},
		vehicles:     map[int64]*models.Vehicle{},
		windows:      map[int64]*models.VehicleStatus{},
		discounts:    map[int64]*models.Discount{},
		orders:       map[int64]*models.Order{},
		transactions: map[int64]*models.Transaction{},
		failFor:      map[int64]error{},
		holding:      models.ActiveStatuses,
	}
}

func completeProfile(id int64) *models.RenterProfile {
	return &models.RenterProfile{
		ID:      id,
		Name:    "Sita Sharma",
		Email:   "sita@example.com",
		Phone:   "9800000000",
		Image:   "profiles/sita.png",
		Address: "Lalitpur",
	}
}

func (f *fakeStore) addRenter(p *models.RenterProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renters[p.ID] = p
}

func (f *fakeStore) addVehicle(v *models.Vehicle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vehicles[v.ID] = v
}

func (f *fakeStore) addOrder(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
}

func (f *fakeStore) order(id int64) (models.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

func (f *fakeStore) availability(vehicleID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vehicles[vehicleID].Availability
}

func (f *fakeStore) activeCount(userID, vehicleID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.orders {
		if o.UserID == userID && o.VehicleID == vehicleID && o.IsActive() {
			n++
		}
	}
	return n
}

func (f *fakeStore) sortedOrders(match func(*models.Order) bool) []models.Order {
	var out []models.Order
	for _, o := range f.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeStore) releaseLocked(vehicleID, orderID int64) {
	for _, o := range f.orders {
		if o.VehicleID == vehicleID && o.ID != orderID && contains(f.holding, o.Status) {
			return
		}
	}
	if v, ok := f.vehicles[vehicleID]; ok {
		v.Availability = models.VehicleAvailable
	}
}

// guardLocked mirrors the conditional UPDATEs of store.Store
func (f *fakeStore) guardLocked(orderID int64, allowed []string) (*models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	if !contains(allowed, o.Status) {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, o.Status, store.ErrStateChanged)
	}
	return o, nil
}

func contains(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (f *fakeStore) GetRenterProfile(_ context.Context, userID int64) (*models.RenterProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.renters[userID]
	if !ok {
		return nil, fmt.Errorf("renter %d: %w", userID, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetVehicle(_ context.Context, vehicleID int64) (*models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[vehicleID]
	if !ok {
		return nil, fmt.Errorf("vehicle %d: %w", vehicleID, store.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) GetApprovedWindow(_ context.Context, vehicleID int64) (*models.VehicleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[vehicleID]
	if !ok || w.Status != models.VehicleStatusApproved {
		return nil, fmt.Errorf("approved window for vehicle %d: %w", vehicleID, store.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (f *fakeStore) GetActiveDiscount(_ context.Context, categoryID int64) (*models.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.discounts[categoryID]
	if !ok || !d.Enabled {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) CloseExpiredVehicleWindows(_ context.Context, today time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, w := range f.windows {
		if w.Status == models.VehicleStatusApproved && w.EndDate.Before(today) {
			w.Status = models.VehicleStatusEndRentalDate
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	hook := f.afterGet
	f.afterGet = nil
	o, ok := f.orders[id]
	var cp models.Order
	if ok {
		cp = *o
	}
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &cp, nil
}

func (f *fakeStore) ListOrdersForPair(_ context.Context, userID, vehicleID int64, statuses ...string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedOrders(func(o *models.Order) bool {
		return o.UserID == userID && o.VehicleID == vehicleID && contains(statuses, o.Status)
	}), nil
}

func (f *fakeStore) CreateDraftOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[order.VehicleID]
	if !ok {
		return fmt.Errorf("vehicle %d: %w", order.VehicleID, store.ErrNotFound)
	}
	if v.Availability != models.VehicleAvailable {
		return store.ErrVehicleUnavailable
	}
	v.Availability = models.VehicleUnavailable
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeStore) ListConflictingOrders(_ context.Context, vehicleID, excludeOrderID int64, start, end time.Time) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedOrders(func(o *models.Order) bool {
		return o.VehicleID == vehicleID && o.ID != excludeOrderID &&
			o.Status != models.OrderStatusCancelled && o.Status != models.OrderStatusExpired &&
			o.StartDate != nil && o.EndDate != nil &&
			!o.StartDate.After(end) && !o.EndDate.Before(start)
	}), nil
}

func (f *fakeStore) UpdateRentalDetails(_ context.Context, orderID int64, d models.RentalDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.guardLocked(orderID, models.ActiveStatuses)
	if err != nil {
		return err
	}
	start, end := d.StartDate, d.EndDate
	o.StartDate, o.EndDate = &start, &end
	o.TermsAccepted = d.TermsAccepted
	o.LicenseImage = d.LicenseImage
	o.Status = models.OrderStatusPaymentPending
	o.RentalDays = d.RentalDays
	o.GrandTotal = d.GrandTotal
	return nil
}

func (f *fakeStore) ConfirmCOD(_ context.Context, orderID, vehicleID int64, release bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.guardLocked(orderID, fakeCancellable)
	if err != nil {
		return err
	}
	o.Status = models.OrderStatusApprovalPending
	o.PaidStatus = models.PaidStatusPending
	o.DeliveredStatus = models.DeliveredStatusNotDelivered
	o.PaymentMethod = models.PaymentMethodCOD
	if release {
		f.vehicles[vehicleID].Availability = models.VehicleAvailable
	}
	return nil
}

func (f *fakeStore) MarkOrderPaid(_ context.Context, orderID int64, method, transactionUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.guardLocked(orderID, fakePayable)
	if err != nil {
		return err
	}
	o.Status = models.OrderStatusCompleted
	o.PaidStatus = models.PaidStatusPaid
	o.PaymentMethod = method
	o.TransactionUUID = transactionUUID
	return nil
}

func (f *fakeStore) CancelOrder(_ context.Context, orderID, vehicleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.guardLocked(orderID, fakeCancellable)
	if err != nil {
		return err
	}
	o.Status = models.OrderStatusCancelled
	f.releaseLocked(vehicleID, orderID)
	return nil
}

func (f *fakeStore) ExpireOrder(_ context.Context, orderID, vehicleID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[orderID]; err != nil {
		return false, err
	}
	o, ok := f.orders[orderID]
	if !ok || !o.IsActive() {
		return false, nil
	}
	o.Status = models.OrderStatusExpired
	f.releaseLocked(vehicleID, orderID)
	return true, nil
}

func (f *fakeStore) PurgeOrder(_ context.Context, orderID, vehicleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[orderID]; err != nil {
		return err
	}
	if o, ok := f.orders[orderID]; ok && (o.Status == models.OrderStatusCancelled || o.Status == models.OrderStatusExpired) {
		delete(f.orders, orderID)
	}
	f.releaseLocked(vehicleID, orderID)
	return nil
}

func (f *fakeStore) ListSweepableOrders(_ context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	return f.sortedOrders(func(o *models.Order) bool {
		return contains(models.SweepStatuses, o.Status)
	}), nil
}

func (f *fakeStore) ListPayableOrders(_ context.Context) ([]models.PayableOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	var out []models.PayableOrder
	for _, o := range f.sortedOrders(func(o *models.Order) bool { return o.IsSettled() }) {
		out = append(out, models.PayableOrder{
			OrderID:    o.ID,
			OwnerID:    f.vehicles[o.VehicleID].OwnerID,
			GrandTotal: o.GrandTotal,
		})
	}
	return out, nil
}

func (f *fakeStore) TransactionExists(_ context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.transactions[orderID]
	return ok, nil
}

func (f *fakeStore) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[txn.OrderID]; err != nil {
		return err
	}
	cp := *txn
	f.transactions[txn.OrderID] = &cp
	return nil
}

// fakeLocker is a single process lock table
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	acquired int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.acquired++
	token := fmt.Sprintf("token-%d", l.acquired)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("lock not held")
	}
	delete(l.held, key)
	return nil
}

// recordingPublisher keeps every published event type
type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	orders []*models.OrderEvent
	txns   []*models.TransactionPostedEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType)
	p.orders = append(p.orders, event)
	return p.err
}

func (p *recordingPublisher) PublishTransactionPosted(_ context.Context, event *models.TransactionPostedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType)
	p.txns = append(p.txns, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sequentialIDs(start int64) func() int64 {
	var mu sync.Mutex
	next := start
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next
	}
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := date(s)
	return &t
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
