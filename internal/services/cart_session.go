package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/platform/textutil"
	"github.com/baqala/storefront/internal/repositories"
)

const (
	instrumentationName = "github.com/baqala/storefront/internal/services"
	cartChangedTopic    = "cart.changed"
	publishTimeout      = 10 * time.Second
)

var tracer = otel.Tracer(instrumentationName)

// CartServiceDeps wires the cart lifecycle.
type CartServiceDeps struct {
	GuestStore   repositories.CartStore
	AccountStore repositories.AccountCartRepository
	Catalog      repositories.CatalogRepository
	Discounts    DiscountEvaluator
	DeliveryFees DeliveryFeeResolver
	Publisher    CartEventPublisher
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

// CartService opens cart sessions and owns the guest-to-account merge.
type CartService struct {
	guest     repositories.CartStore
	account   repositories.AccountCartRepository
	catalog   repositories.CatalogRepository
	discounts DiscountEvaluator
	fees      DeliveryFeeResolver
	publisher CartEventPublisher
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)

	failures    metric.Int64Counter
	mergedLines metric.Int64Counter
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (*CartService, error) {
	switch {
	case deps.GuestStore == nil:
		return nil, errCartGuestStoreRequired
	case deps.AccountStore == nil:
		return nil, errCartAccountStoreRequired
	case deps.Catalog == nil:
		return nil, errCartCatalogRequired
	case deps.Discounts == nil:
		return nil, errCartDiscountsRequired
	case deps.DeliveryFees == nil:
		return nil, errCartFeesRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	svc := &CartService{
		guest:     deps.GuestStore,
		account:   deps.AccountStore,
		catalog:   deps.Catalog,
		discounts: deps.Discounts,
		fees:      deps.DeliveryFees,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if svc.failures, err = meter.Int64Counter("cart.operation.failures",
		metric.WithDescription("Cart operations that failed, by operation")); err != nil {
		logger(context.Background(), "cart.metrics_unavailable", map[string]any{"error": err.Error()})
	}
	if svc.mergedLines, err = meter.Int64Counter("cart.merge.lines",
		metric.WithDescription("Guest cart lines merged into account carts")); err != nil {
		logger(context.Background(), "cart.metrics_unavailable", map[string]any{"error": err.Error()})
	}
	return svc, nil
}

// MergeGuestCart folds the device's guest lines into the account cart in one
// transaction: a line already present remotely gains the guest quantity,
// otherwise the guest line is appended. Guest data is cleared only after the
// transaction commits. Merging an empty guest cart leaves the account untouched.
func (s *CartService) MergeGuestCart(ctx context.Context, deviceID, uid string) ([]domain.CartLine, int, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, 0, fmt.Errorf("%w: uid is required", ErrCartInvalidInput)
	}

	var guestLines []domain.CartLine
	if deviceID = strings.TrimSpace(deviceID); deviceID != "" {
		lines, err := s.guest.Load(ctx, deviceID)
		if err != nil {
			return nil, 0, err
		}
		guestLines = lines
	}

	if len(guestLines) == 0 {
		lines, err := s.account.Load(ctx, uid)
		return lines, 0, err
	}

	merged, err := s.account.Mutate(ctx, uid, func(remote []domain.CartLine) ([]domain.CartLine, error) {
		return mergeLines(remote, guestLines), nil
	})
	if err != nil {
		return nil, 0, err
	}

	if err := s.guest.Clear(ctx, deviceID); err != nil {
		s.logger(ctx, "cart.merge.guest_clear_failed", map[string]any{
			"deviceId": deviceID,
			"uid":      uid,
			"error":    err.Error(),
		})
	}
	if s.mergedLines != nil {
		s.mergedLines.Add(ctx, int64(len(guestLines)))
	}
	return merged, len(guestLines), nil
}

func mergeLines(remote, guest []domain.CartLine) []domain.CartLine {
	out := domain.CloneLines(remote)
	for _, line := range guest {
		if idx := domain.IndexOfLine(out, line.ID); idx >= 0 {
			out[idx].Quantity += line.Quantity
			continue
		}
		out = append(out, domain.CloneLines([]domain.CartLine{line})...)
	}
	return out
}

// SessionOption customises a CartSession.
type SessionOption func(*CartSession)

// WithLiveUpdates keeps an authenticated session subscribed to the account
// cart so changes made elsewhere replace its lines and notify subscribers.
// Request-scoped sessions leave it off.
func WithLiveUpdates() SessionOption {
	return func(c *CartSession) {
		c.live = true
	}
}

// OpenSession starts an anonymous session for the device and loads its guest
// cart. deviceID may be empty for callers that only ever authenticate. A
// failed initial load is recorded on the session, not returned.
func (s *CartService) OpenSession(ctx context.Context, deviceID string, opts ...SessionOption) *CartSession {
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &CartSession{
		svc:      s,
		deviceID: strings.TrimSpace(deviceID),
		baseCtx:  baseCtx,
		cancel:   cancel,
		state:    CartStateAnonymous,
		bus:      EventBus.New(),
		subs:     make(map[int]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(session)
		}
	}

	if s.publisher != nil {
		_ = session.bus.SubscribeAsync(cartChangedTopic, session.forward, false)
	}

	if session.deviceID != "" {
		lines, err := s.guest.Load(ctx, session.deviceID)
		if err != nil {
			session.fail(ctx, CartOpFetch, err)
		} else {
			session.lines = lines
		}
	}
	return session
}

// CartSession is one client's view of its cart. It decides which store is
// authoritative (guest while anonymous or while a merge is pending, account
// once authenticated) and keeps a snapshot of the lines that is only ever
// replaced by confirmed store results or live account snapshots.
type CartSession struct {
	svc      *CartService
	deviceID string
	live     bool

	baseCtx context.Context
	cancel  context.CancelFunc

	// opMu serialises operations; mu guards the fields below it.
	opMu sync.Mutex

	mu        sync.Mutex
	state     CartState
	uid       string
	lines     []domain.CartLine
	lastErr   *CartError
	stopWatch func()
	watchGen  int
	closed    bool

	bus     EventBus.Bus
	subMu   sync.Mutex
	subs    map[int]string
	nextSub int
}

// State reports the lifecycle state.
func (c *CartSession) State() CartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UID returns the identity the session is bound to, empty while anonymous.
func (c *CartSession) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

// Err returns the most recent failure, cleared by the next successful operation.
func (c *CartSession) Err() *CartError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetIdentity applies an identity transition. An empty uid logs out and
// reloads the guest cart. A new uid enters Authenticating and merges the
// guest cart; on failure the session stays Authenticating until RetryMerge or
// another identity event. Re-applying the current identity is a no-op.
func (c *CartSession) SetIdentity(ctx context.Context, uid string) error {
	ctx, span := tracer.Start(ctx, "CartSession.SetIdentity")
	defer span.End()

	uid = strings.TrimSpace(uid)
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.mu.Lock()
	current := c.uid
	c.mu.Unlock()
	if uid == current {
		return nil
	}

	c.stopWatching()
	if uid == "" {
		return c.becomeAnonymous(ctx)
	}

	c.mu.Lock()
	c.uid = uid
	c.state = CartStateAuthenticating
	c.mu.Unlock()
	return c.merge(ctx, span)
}

// RetryMerge re-runs a merge left pending by an earlier failure.
func (c *CartSession) RetryMerge(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "CartSession.RetryMerge")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.State() != CartStateAuthenticating {
		return nil
	}
	return c.merge(ctx, span)
}

func (c *CartSession) becomeAnonymous(ctx context.Context) error {
	var (
		lines []domain.CartLine
		err   error
	)
	if c.deviceID != "" {
		lines, err = c.svc.guest.Load(ctx, c.deviceID)
	}

	c.mu.Lock()
	c.uid = ""
	c.state = CartStateAnonymous
	c.lines = lines
	c.mu.Unlock()

	if err != nil {
		return c.fail(ctx, CartOpFetch, err)
	}
	c.clearErr()
	c.notify("logout")
	return nil
}

func (c *CartSession) merge(ctx context.Context, span trace.Span) error {
	uid := c.UID()
	merged, count, err := c.svc.MergeGuestCart(ctx, c.deviceID, uid)
	if err != nil {
		// Reads keep targeting the guest cart while the merge is pending.
		if c.deviceID != "" {
			if lines, loadErr := c.svc.guest.Load(ctx, c.deviceID); loadErr == nil {
				c.mu.Lock()
				c.lines = lines
				c.mu.Unlock()
			}
		}
		span.SetStatus(codes.Error, "merge failed")
		return c.fail(ctx, CartOpMerge, err)
	}

	c.mu.Lock()
	c.state = CartStateAuthenticated
	c.lines = merged
	c.lastErr = nil
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("cart.merged_lines", count))
	c.svc.logger(ctx, "cart.merged", map[string]any{"uid": uid, "deviceId": c.deviceID, "mergedLines": count})
	if c.live {
		c.startWatching(ctx, uid)
	}
	c.notify("merge")
	return nil
}

func (c *CartSession) startWatching(ctx context.Context, uid string) {
	c.mu.Lock()
	c.watchGen++
	gen := c.watchGen
	c.mu.Unlock()

	stop, err := c.svc.account.Watch(c.baseCtx, uid, func(lines []domain.CartLine, err error) {
		c.onRemote(gen, uid, lines, err)
	})
	if err != nil {
		c.fail(ctx, CartOpFetch, err)
		return
	}

	c.mu.Lock()
	if c.watchGen != gen || c.closed {
		c.mu.Unlock()
		stop()
		return
	}
	c.stopWatch = stop
	c.mu.Unlock()
}

func (c *CartSession) stopWatching() {
	c.mu.Lock()
	stop := c.stopWatch
	c.stopWatch = nil
	c.watchGen++
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *CartSession) onRemote(gen int, uid string, lines []domain.CartLine, err error) {
	c.mu.Lock()
	if c.closed || c.watchGen != gen || c.uid != uid || c.state != CartStateAuthenticated {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.lastErr = newCartError(CartOpFetch, err)
		c.mu.Unlock()
		c.svc.logger(c.baseCtx, "cart.watch_failed", map[string]any{"uid": uid, "error": err.Error()})
		return
	}
	if sameLines(c.lines, lines) {
		c.mu.Unlock()
		return
	}
	c.lines = domain.CloneLines(lines)
	c.mu.Unlock()
	c.notify("remote")
}

// AddToCart adds one unit of product with the given extras. The line is keyed
// by product id and the sorted distinct extra ids; an existing line gains one
// unit, a new line captures the current unit price (derived for bundles).
func (c *CartSession) AddToCart(ctx context.Context, product domain.Product, extras []domain.Extra) error {
	ctx, span := tracer.Start(ctx, "CartSession.AddToCart", trace.WithAttributes(attribute.String("cart.product_id", product.ID)))
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.addLocked(ctx, product, extras)
}

// AddProduct resolves productID and extraIDs from the catalog, then adds them.
func (c *CartSession) AddProduct(ctx context.Context, productID string, extraIDs []string) error {
	ctx, span := tracer.Start(ctx, "CartSession.AddProduct", trace.WithAttributes(attribute.String("cart.product_id", productID)))
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return c.fail(ctx, CartOpAdd, fmt.Errorf("%w: product id is required", ErrCartInvalidInput))
	}
	product, err := c.svc.catalog.GetProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return c.fail(ctx, CartOpAdd, fmt.Errorf("%w: %s", ErrProductNotFound, productID))
		}
		return c.fail(ctx, CartOpAdd, err)
	}

	ids := domain.SortedExtraIDs(extraIDs)
	var extras []domain.Extra
	if len(ids) > 0 {
		extras, err = c.svc.catalog.GetExtras(ctx, ids)
		if err != nil {
			return c.fail(ctx, CartOpAdd, err)
		}
		if len(extras) != len(ids) {
			return c.fail(ctx, CartOpAdd, fmt.Errorf("%w: unknown extra in %v", ErrExtraNotAllowed, ids))
		}
	}
	return c.addLocked(ctx, product, extras)
}

func (c *CartSession) addLocked(ctx context.Context, product domain.Product, extras []domain.Extra) error {
	if strings.TrimSpace(product.ID) == "" {
		return c.fail(ctx, CartOpAdd, fmt.Errorf("%w: product id is required", ErrCartInvalidInput))
	}
	extras = distinctExtras(extras)
	if err := validateExtras(product, extras); err != nil {
		return c.fail(ctx, CartOpAdd, err)
	}

	unitPrice := product.UnitPrice
	if product.IsBundle() {
		items, err := c.svc.catalog.ListItems(ctx)
		if err != nil {
			return c.fail(ctx, CartOpAdd, err)
		}
		unitPrice = domain.BundlePrice(product, items)
	}

	extraIDs := make([]string, 0, len(extras))
	for _, e := range extras {
		extraIDs = append(extraIDs, e.ID)
	}
	lineID := domain.LineID(product.ID, extraIDs)

	template := domain.CartLine{
		ID:        lineID,
		ProductID: product.ID,
		Kind:      product.Kind,
		Name:      textutil.SanitizeLocalized(product.Name),
		Image:     strings.TrimSpace(product.Image),
		Quantity:  1,
		UnitPrice: unitPrice,
		Category:  product.Category,
		Stock:     product.Stock,
		AddedAt:   c.svc.now(),
	}
	for _, e := range extras {
		template.Extras = append(template.Extras, domain.Extra{
			ID:    e.ID,
			Name:  textutil.SanitizeLocalized(e.Name),
			Price: e.Price,
		})
	}

	return c.apply(ctx, CartOpAdd, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		if idx := domain.IndexOfLine(lines, lineID); idx >= 0 {
			lines[idx].Quantity++
			return lines, nil
		}
		return append(lines, domain.CloneLines([]domain.CartLine{template})...), nil
	})
}

// UpdateQuantity sets a line's quantity; zero or below removes the line.
func (c *CartSession) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	ctx, span := tracer.Start(ctx, "CartSession.UpdateQuantity", trace.WithAttributes(attribute.String("cart.line_id", lineID)))
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return c.fail(ctx, CartOpUpdate, fmt.Errorf("%w: line id is required", ErrCartInvalidInput))
	}
	if quantity <= 0 {
		return c.apply(ctx, CartOpUpdate, removeLine(lineID))
	}
	return c.apply(ctx, CartOpUpdate, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		idx := domain.IndexOfLine(lines, lineID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrCartLineNotFound, lineID)
		}
		lines[idx].Quantity = quantity
		return lines, nil
	})
}

// RemoveFromCart deletes a line; removing an absent line is a no-op.
func (c *CartSession) RemoveFromCart(ctx context.Context, lineID string) error {
	ctx, span := tracer.Start(ctx, "CartSession.RemoveFromCart", trace.WithAttributes(attribute.String("cart.line_id", lineID)))
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.apply(ctx, CartOpRemove, removeLine(strings.TrimSpace(lineID)))
}

// ClearCart empties the authoritative cart.
func (c *CartSession) ClearCart(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "CartSession.ClearCart")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.apply(ctx, CartOpClear, func([]domain.CartLine) ([]domain.CartLine, error) {
		return nil, nil
	})
}

func removeLine(lineID string) repositories.CartMutation {
	return func(lines []domain.CartLine) ([]domain.CartLine, error) {
		out := lines[:0]
		for _, line := range lines {
			if line.ID != lineID {
				out = append(out, line)
			}
		}
		return out, nil
	}
}

func (c *CartSession) apply(ctx context.Context, op CartOp, fn repositories.CartMutation) error {
	c.mu.Lock()
	state, uid := c.state, c.uid
	c.mu.Unlock()

	var (
		store repositories.CartStore = c.svc.guest
		owner                        = c.deviceID
	)
	if state == CartStateAuthenticated {
		store, owner = c.svc.account, uid
	}
	if owner == "" {
		return c.fail(ctx, op, fmt.Errorf("%w: no cart owner", ErrCartInvalidInput))
	}

	lines, err := store.Mutate(ctx, owner, fn)
	if err != nil {
		return c.fail(ctx, op, err)
	}

	// A live snapshot may already have delivered this result.
	changed := false
	c.mu.Lock()
	if c.state == state && c.uid == uid {
		changed = !sameLines(c.lines, lines)
		c.lines = lines
		c.lastErr = nil
	}
	c.mu.Unlock()
	if changed {
		c.notify(string(op))
	}
	return nil
}

// Lines returns a copy of the current line list.
func (c *CartSession) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneLines(c.lines)
}

// Subtotal is the sum of line grand totals.
func (c *CartSession) Subtotal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Subtotal(c.lines)
}

// ItemCount is the sum of line quantities.
func (c *CartSession) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ItemCount(c.lines)
}

// Discount evaluates active offers against the current lines.
func (c *CartSession) Discount(ctx context.Context) (DiscountResult, error) {
	result, err := c.svc.discounts.Evaluate(ctx, c.Lines())
	if err != nil {
		return DiscountResult{}, c.fail(ctx, CartOpFetch, err)
	}
	return result, nil
}

// Summary prices the current lines: total = subtotal - discount + delivery fee.
func (c *CartSession) Summary(ctx context.Context, method domain.DeliveryMethod) (CartSummary, error) {
	ctx, span := tracer.Start(ctx, "CartSession.Summary")
	defer span.End()

	c.mu.Lock()
	lines := domain.CloneLines(c.lines)
	state, uid := c.state, c.uid
	c.mu.Unlock()

	discount, err := c.svc.discounts.Evaluate(ctx, lines)
	if err != nil {
		return CartSummary{}, c.fail(ctx, CartOpFetch, err)
	}
	fee, err := c.svc.fees.Fee(ctx, method, uid)
	if err != nil {
		return CartSummary{}, c.fail(ctx, CartOpFetch, err)
	}

	if lines == nil {
		lines = []domain.CartLine{}
	}
	subtotal := domain.Subtotal(lines)
	return CartSummary{
		State:           state,
		Lines:           lines,
		ItemCount:       domain.ItemCount(lines),
		Subtotal:        subtotal,
		Discount:        discount.Amount,
		AppliedOfferIDs: discount.AppliedOfferIDs,
		DeliveryMethod:  string(method),
		DeliveryFee:     fee,
		Total:           subtotal - discount.Amount + fee,
	}, nil
}

// Subscribe registers fn for cart-changed notifications. Handlers run
// synchronously on the goroutine that applied the change, often while the
// session holds its operation lock, so they must not block and must not call
// back into the session's operations.
func (c *CartSession) Subscribe(fn func(CartChange)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: subscriber is required", ErrCartInvalidInput)
	}
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	topic := fmt.Sprintf("%s.%d", cartChangedTopic, id)
	c.subs[id] = topic
	c.subMu.Unlock()

	if err := c.bus.Subscribe(topic, fn); err != nil {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			_ = c.bus.Unsubscribe(topic, fn)
		})
	}, nil
}

// Close stops the live subscription and waits for pending event forwarding.
func (c *CartSession) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stopWatching()
	c.bus.WaitAsync()
	c.cancel()
}

func (c *CartSession) notify(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	change := CartChange{
		OwnerKind:  CartOwnerGuest,
		OwnerID:    c.deviceID,
		State:      c.state,
		Reason:     reason,
		Lines:      domain.CloneLines(c.lines),
		ItemCount:  domain.ItemCount(c.lines),
		Subtotal:   domain.Subtotal(c.lines),
		OccurredAt: c.svc.now(),
	}
	if c.state == CartStateAuthenticated {
		change.OwnerKind = CartOwnerAccount
		change.OwnerID = c.uid
	}
	c.mu.Unlock()

	c.subMu.Lock()
	topics := make([]string, 0, len(c.subs))
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		topics = append(topics, c.subs[id])
	}
	c.subMu.Unlock()

	for _, topic := range topics {
		c.bus.Publish(topic, change)
	}
	if c.svc.publisher != nil {
		c.bus.Publish(cartChangedTopic, change)
	}
}

func (c *CartSession) forward(change CartChange) {
	ctx, cancel := context.WithTimeout(c.baseCtx, publishTimeout)
	defer cancel()
	if _, err := c.svc.publisher.PublishCartChanged(ctx, change); err != nil {
		c.svc.logger(ctx, "cart.publish_failed", map[string]any{
			"ownerKind": string(change.OwnerKind),
			"reason":    change.Reason,
			"error":     err.Error(),
		})
	}
}

func (c *CartSession) fail(ctx context.Context, op CartOp, err error) *CartError {
	var ce *CartError
	if !errors.As(err, &ce) || ce.Op != op {
		ce = newCartError(op, err)
	}
	c.mu.Lock()
	c.lastErr = ce
	c.mu.Unlock()

	span := trace.SpanFromContext(ctx)
	span.RecordError(ce)
	span.SetStatus(codes.Error, string(op))
	if c.svc.failures != nil {
		c.svc.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op))))
	}
	c.svc.logger(ctx, "cart.operation_failed", map[string]any{
		"op":       string(op),
		"deviceId": c.deviceID,
		"uid":      c.UID(),
		"error":    ce.Error(),
	})
	return ce
}

func (c *CartSession) clearErr() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}

func (c *CartSession) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	return nil
}

func validateExtras(product domain.Product, extras []domain.Extra) error {
	if len(extras) == 0 {
		return nil
	}
	if !product.IsBundle() {
		return fmt.Errorf("%w: extras can only be attached to bundles", ErrExtraNotAllowed)
	}
	if len(product.EligibleExtras) == 0 {
		return nil
	}
	eligible := make(map[string]struct{}, len(product.EligibleExtras))
	for _, id := range product.EligibleExtras {
		eligible[strings.TrimSpace(id)] = struct{}{}
	}
	for _, e := range extras {
		if _, ok := eligible[e.ID]; !ok {
			return fmt.Errorf("%w: %s is not offered with %s", ErrExtraNotAllowed, e.ID, product.ID)
		}
	}
	return nil
}

func distinctExtras(extras []domain.Extra) []domain.Extra {
	if len(extras) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(extras))
	out := make([]domain.Extra, 0, len(extras))
	for _, e := range extras {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sameLines(a, b []domain.CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Quantity != b[i].Quantity || a[i].UnitPrice != b[i].UnitPrice || len(a[i].Extras) != len(b[i].Extras) {
			return false
		}
	}
	return true
}
