package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/baqala/storefront/internal/domain"
	pfirestore "github.com/baqala/storefront/internal/platform/firestore"
	"github.com/baqala/storefront/internal/repositories"
)

const cartCollection = "carts"

type cartDocument struct {
	Items     []domain.CartLine `firestore:"items"`
	ItemCount int               `firestore:"itemCount"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

// CartRepository persists account carts as carts/{uid} documents holding the full line list.
type CartRepository struct {
	base  *pfirestore.BaseRepository[cartDocument]
	clock func() time.Time
}

var _ repositories.AccountCartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed account cart repository.
func NewCartRepository(provider *pfirestore.Provider, clock func() time.Time) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{
		base:  pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil),
		clock: clock,
	}, nil
}

// Load returns the stored lines; a missing document is an empty cart.
func (r *CartRepository) Load(ctx context.Context, uid string) ([]domain.CartLine, error) {
	uid = strings.TrimSpace(uid)
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return domain.CloneLines(doc.Data.Items), nil
}

// Save overwrites the full line list.
func (r *CartRepository) Save(ctx context.Context, uid string, lines []domain.CartLine) error {
	return r.base.Set(ctx, strings.TrimSpace(uid), r.document(lines))
}

// Mutate re-reads the cart inside a transaction, applies fn and writes the result.
func (r *CartRepository) Mutate(ctx context.Context, uid string, fn repositories.CartMutation) ([]domain.CartLine, error) {
	if fn == nil {
		return nil, errors.New("cart repository: mutation is required")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(uid))
	if err != nil {
		return nil, err
	}

	var result []domain.CartLine
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current []domain.CartLine
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			doc, decodeErr := r.base.Decode(snap)
			if decodeErr != nil {
				return decodeErr
			}
			current = doc.Data.Items
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		next, err := fn(domain.CloneLines(current))
		if err != nil {
			return err
		}
		result = next
		return tx.Set(ref, r.document(next))
	}, pfirestore.WithTxName("cart.mutate"))
	if err != nil {
		return nil, err
	}
	return domain.CloneLines(result), nil
}

// Clear replaces the line list with an empty one so watchers observe the change.
func (r *CartRepository) Clear(ctx context.Context, uid string) error {
	return r.Save(ctx, uid, nil)
}

// Watch streams the cart's line list on every remote change until stop is called.
func (r *CartRepository) Watch(ctx context.Context, uid string, handler repositories.CartWatchHandler) (func(), error) {
	if handler == nil {
		return nil, errors.New("cart repository: watch handler is required")
	}
	return r.base.Watch(ctx, strings.TrimSpace(uid), func(doc pfirestore.Document[cartDocument], exists bool, err error) {
		if err != nil {
			handler(nil, err)
			return
		}
		if !exists {
			handler(nil, nil)
			return
		}
		handler(domain.CloneLines(doc.Data.Items), nil)
	})
}

func (r *CartRepository) document(lines []domain.CartLine) cartDocument {
	items := domain.CloneLines(lines)
	if items == nil {
		items = []domain.CartLine{}
	}
	return cartDocument{
		Items:     items,
		ItemCount: domain.ItemCount(items),
		UpdatedAt: r.clock().UTC(),
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
