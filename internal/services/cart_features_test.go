package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/baqala/storefront/internal/domain"
)

type cartFeatureContext struct {
	fixture *cartFixture
	session *CartSession
	lastErr error
}

func (c *cartFeatureContext) reset() error {
	if c.session != nil {
		c.session.Close()
	}
	fixture, err := buildCartFixture()
	if err != nil {
		return err
	}
	// Scenarios declare the catalog they need.
	for _, id := range []string{itemA.ID, itemB.ID, box.ID} {
		fixture.catalog.DeleteProduct(id)
	}
	c.fixture = fixture
	c.session = nil
	c.lastErr = nil
	return nil
}

func (c *cartFeatureContext) catalogHasItem(id, category string, price int) error {
	c.fixture.catalog.PutProduct(domain.Product{
		ID:        id,
		Kind:      domain.ProductKindSimple,
		Name:      domain.LocalizedText{"en": id},
		Category:  category,
		UnitPrice: int64(price),
		Stock:     10,
	})
	return nil
}

func (c *cartFeatureContext) catalogHasBundle(id string, qtyA int, itemIDA string, qtyB int, itemIDB string) error {
	c.fixture.catalog.PutProduct(domain.Product{
		ID:       id,
		Kind:     domain.ProductKindBundle,
		Name:     domain.LocalizedText{"en": id},
		Category: "Bundles",
		Stock:    5,
		Contents: []domain.BundleContent{
			{ItemID: itemIDA, Quantity: qtyA},
			{ItemID: itemIDB, Quantity: qtyB},
		},
	})
	return nil
}

func (c *cartFeatureContext) catalogHasExtra(id string, price int) error {
	c.fixture.catalog.PutExtra(domain.Extra{ID: id, Name: domain.LocalizedText{"en": id}, Price: int64(price)})
	return nil
}

func (c *cartFeatureContext) storeDeliveryFee(fee int) error {
	// The fixture's settings already carry the default fee; anything else is a scenario bug.
	if int64(fee) != DefaultDeliveryFee {
		return fmt.Errorf("unsupported store fee %d", fee)
	}
	return nil
}

func (c *cartFeatureContext) priceChanges(id string, price int) error {
	product, err := c.fixture.catalog.GetProduct(context.Background(), id)
	if err != nil {
		return err
	}
	product.UnitPrice = int64(price)
	c.fixture.catalog.PutProduct(product)
	return nil
}

func (c *cartFeatureContext) activeOffer(percent int, id, category string) error {
	c.fixture.offers.Put(domain.Offer{
		ID:        id,
		ExpiresAt: evalNow.Add(time.Hour),
		Rule: &domain.DiscountRule{
			Type:   domain.DiscountTypePercentage,
			Scope:  domain.DiscountScopeCategory,
			Target: category,
			Value:  float64(percent),
		},
	})
	return nil
}

func (c *cartFeatureContext) customerOverride(uid string, fee int) error {
	override := int64(fee)
	c.fixture.customers.Put(domain.Customer{ID: uid, DeliveryFeeOverride: &override})
	return nil
}

func (c *cartFeatureContext) accountRejectsWrites() error {
	c.fixture.account.FailWrites(errors.New("account store offline"))
	return nil
}

func (c *cartFeatureContext) seedLine(store interface {
	Load(context.Context, string) ([]domain.CartLine, error)
	Save(context.Context, string, []domain.CartLine) error
}, owner string, qty int, productID string) error {
	ctx := context.Background()
	product, err := c.fixture.catalog.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	lines, err := store.Load(ctx, owner)
	if err != nil {
		return err
	}
	lines = append(lines, domain.CartLine{
		ID:        domain.LineID(product.ID, nil),
		ProductID: product.ID,
		Kind:      product.Kind,
		Name:      product.Name,
		Quantity:  qty,
		UnitPrice: product.UnitPrice,
		Category:  product.Category,
		Stock:     product.Stock,
	})
	return store.Save(ctx, owner, lines)
}

func (c *cartFeatureContext) guestHolds(owner string, qty int, productID string) error {
	return c.seedLine(c.fixture.guest, owner, qty, productID)
}

func (c *cartFeatureContext) accountHolds(owner string, qty int, productID string) error {
	return c.seedLine(c.fixture.account, owner, qty, productID)
}

func (c *cartFeatureContext) anonymousSession(deviceID string) error {
	c.session = c.fixture.svc.OpenSession(context.Background(), deviceID)
	if err := c.session.Err(); err != nil {
		return err
	}
	return nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

func (c *cartFeatureContext) addWithExtras(productID, extras string) error {
	ctx := context.Background()
	product, err := c.fixture.catalog.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	resolved, err := c.fixture.catalog.GetExtras(ctx, splitIDs(extras))
	if err != nil {
		return err
	}
	c.lastErr = c.session.AddToCart(ctx, product, resolved)
	return nil
}

func (c *cartFeatureContext) add(productID string) error {
	return c.addWithExtras(productID, "")
}

func (c *cartFeatureContext) signIn(uid string) error {
	c.lastErr = c.session.SetIdentity(context.Background(), uid)
	return nil
}

func (c *cartFeatureContext) signOut() error {
	return c.session.SetIdentity(context.Background(), "")
}

func (c *cartFeatureContext) setQuantity(productID string, qty int) error {
	return c.session.UpdateQuantity(context.Background(), domain.LineID(productID, nil), qty)
}

func (c *cartFeatureContext) cartHasLines(n int) error {
	if got := len(c.session.Lines()); got != n {
		return fmt.Errorf("expected %d lines, got %d", n, got)
	}
	return nil
}

func (c *cartFeatureContext) findLine(productID, extras string) (domain.CartLine, error) {
	id := domain.LineID(productID, splitIDs(extras))
	lines := c.session.Lines()
	if idx := domain.IndexOfLine(lines, id); idx >= 0 {
		return lines[idx], nil
	}
	return domain.CartLine{}, fmt.Errorf("line %q not in cart", id)
}

func (c *cartFeatureContext) lineWithExtrasHasQuantity(productID, extras string, qty int) error {
	line, err := c.findLine(productID, extras)
	if err != nil {
		return err
	}
	if line.Quantity != qty {
		return fmt.Errorf("expected quantity %d, got %d", qty, line.Quantity)
	}
	return nil
}

func (c *cartFeatureContext) lineWithExtrasHasPrice(productID, extras string, price int) error {
	line, err := c.findLine(productID, extras)
	if err != nil {
		return err
	}
	if line.UnitPrice != int64(price) {
		return fmt.Errorf("expected unit price %d, got %d", price, line.UnitPrice)
	}
	return nil
}

func (c *cartFeatureContext) lineHasQuantity(productID string, qty int) error {
	return c.lineWithExtrasHasQuantity(productID, "", qty)
}

func (c *cartFeatureContext) lineHasPrice(productID string, price int) error {
	return c.lineWithExtrasHasPrice(productID, "", price)
}

func (c *cartFeatureContext) lastOperationFailed(op string) error {
	cartErr := c.session.Err()
	if cartErr == nil {
		return errors.New("expected a recorded failure")
	}
	if string(cartErr.Op) != op {
		return fmt.Errorf("expected failed op %q, got %q", op, cartErr.Op)
	}
	return nil
}

func (c *cartFeatureContext) sessionIs(state string) error {
	if got := c.session.State(); string(got) != state {
		return fmt.Errorf("expected state %s, got %s", state, got)
	}
	return nil
}

func quantityOf(lines []domain.CartLine, productID string) int {
	if idx := domain.IndexOfLine(lines, domain.LineID(productID, nil)); idx >= 0 {
		return lines[idx].Quantity
	}
	return 0
}

func (c *cartFeatureContext) accountHas(owner string, qty int, productID string) error {
	lines, err := c.fixture.account.Load(context.Background(), owner)
	if err != nil {
		return err
	}
	if got := quantityOf(lines, productID); got != qty {
		return fmt.Errorf("expected %d of %s in account cart, got %d", qty, productID, got)
	}
	return nil
}

func (c *cartFeatureContext) guestHas(owner string, qty int, productID string) error {
	lines, err := c.fixture.guest.Load(context.Background(), owner)
	if err != nil {
		return err
	}
	if got := quantityOf(lines, productID); got != qty {
		return fmt.Errorf("expected %d of %s in guest cart, got %d", qty, productID, got)
	}
	return nil
}

func (c *cartFeatureContext) guestEmpty(owner string) error {
	lines, err := c.fixture.guest.Load(context.Background(), owner)
	if err != nil {
		return err
	}
	if len(lines) != 0 {
		return fmt.Errorf("expected empty guest cart, got %d lines", len(lines))
	}
	return nil
}

func (c *cartFeatureContext) summaryShows(method string, subtotal, discount, fee, total int) error {
	summary, err := c.session.Summary(context.Background(), domain.DeliveryMethod(method))
	if err != nil {
		return err
	}
	if summary.Subtotal != int64(subtotal) || summary.Discount != int64(discount) || summary.DeliveryFee != int64(fee) || summary.Total != int64(total) {
		return fmt.Errorf("unexpected summary %+v", summary)
	}
	return nil
}

func (c *cartFeatureContext) appliedOffers(ids string) error {
	result, err := c.session.Discount(context.Background())
	if err != nil {
		return err
	}
	if got, want := strings.Join(result.AppliedOfferIDs, ","), ids; got != want {
		return fmt.Errorf("expected applied offers %q, got %q", want, got)
	}
	return nil
}

func initializeCartScenario(sc *godog.ScenarioContext) {
	c := &cartFeatureContext{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, c.reset()
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if c.session != nil {
			c.session.Close()
			c.session = nil
		}
		return ctx, nil
	})

	sc.Step(`^the catalog has item "([^"]*)" in "([^"]*)" priced (\d+)$`, c.catalogHasItem)
	sc.Step(`^the catalog has bundle "([^"]*)" with (\d+) of "([^"]*)" and (\d+) of "([^"]*)"$`, c.catalogHasBundle)
	sc.Step(`^the catalog has extra "([^"]*)" priced (\d+)$`, c.catalogHasExtra)
	sc.Step(`^the store delivery fee is (\d+)$`, c.storeDeliveryFee)
	sc.Step(`^the price of "([^"]*)" changes to (\d+)$`, c.priceChanges)
	sc.Step(`^an active (\d+) percent offer "([^"]*)" on category "([^"]*)"$`, c.activeOffer)
	sc.Step(`^the customer "([^"]*)" has a delivery fee override of (\d+)$`, c.customerOverride)
	sc.Step(`^the account store rejects writes$`, c.accountRejectsWrites)
	sc.Step(`^the guest cart of "([^"]*)" holds (\d+) of "([^"]*)"$`, c.guestHolds)
	sc.Step(`^the account cart of "([^"]*)" holds (\d+) of "([^"]*)"$`, c.accountHolds)
	sc.Step(`^an anonymous session on device "([^"]*)"$`, c.anonymousSession)

	sc.Step(`^I add "([^"]*)" with extras "([^"]*)"$`, c.addWithExtras)
	sc.Step(`^I add "([^"]*)"$`, c.add)
	sc.Step(`^I sign in as "([^"]*)"$`, c.signIn)
	sc.Step(`^I sign out$`, c.signOut)
	sc.Step(`^I set the quantity of "([^"]*)" to (-?\d+)$`, c.setQuantity)

	sc.Step(`^the cart has (\d+) lines?$`, c.cartHasLines)
	sc.Step(`^the line for "([^"]*)" with extras "([^"]*)" has quantity (\d+)$`, c.lineWithExtrasHasQuantity)
	sc.Step(`^the line for "([^"]*)" with extras "([^"]*)" has unit price (\d+)$`, c.lineWithExtrasHasPrice)
	sc.Step(`^the line for "([^"]*)" has quantity (\d+)$`, c.lineHasQuantity)
	sc.Step(`^the line for "([^"]*)" has unit price (\d+)$`, c.lineHasPrice)
	sc.Step(`^the last operation failed with "([^"]*)"$`, c.lastOperationFailed)
	sc.Step(`^the session is (anonymous|authenticating|authenticated)$`, c.sessionIs)
	sc.Step(`^the account cart of "([^"]*)" has (\d+) of "([^"]*)"$`, c.accountHas)
	sc.Step(`^the guest cart of "([^"]*)" has (\d+) of "([^"]*)"$`, c.guestHas)
	sc.Step(`^the guest cart of "([^"]*)" is empty$`, c.guestEmpty)
	sc.Step(`^the summary for (delivery|pickup) shows subtotal (\d+), discount (\d+), fee (\d+) and total (\d+)$`, c.summaryShows)
	sc.Step(`^the applied offers are "([^"]*)"$`, c.appliedOffers)
}

func TestCartFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeCartScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
