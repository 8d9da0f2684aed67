package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/baqala/storefront/internal/domain"
	pfirestore "github.com/baqala/storefront/internal/platform/firestore"
	"github.com/baqala/storefront/internal/repositories"
)

const (
	productCollection = "products"
	extraCollection   = "extras"
)

type productDocument struct {
	Kind           string                 `firestore:"kind"`
	Name           map[string]string      `firestore:"name"`
	Category       string                 `firestore:"category"`
	Image          string                 `firestore:"image"`
	UnitPrice      int64                  `firestore:"price"`
	Stock          int                    `firestore:"stock"`
	Contents       []domain.BundleContent `firestore:"contents"`
	EligibleExtras []string               `firestore:"eligibleExtras"`
}

type extraDocument struct {
	Name  map[string]string `firestore:"name"`
	Price int64             `firestore:"price"`
}

// CatalogRepository reads products and extras from Firestore.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[productDocument]
	extras   *pfirestore.BaseRepository[extraDocument]
	provider *pfirestore.Provider
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil),
		extras:   pfirestore.NewBaseRepository[extraDocument](provider, extraCollection, nil),
		provider: provider,
	}, nil
}

// GetProduct loads a single product by id.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// ListItems returns every simple item.
func (r *CatalogRepository) ListItems(ctx context.Context) ([]domain.Product, error) {
	return r.listByKind(ctx, domain.ProductKindSimple)
}

// ListBundles returns every bundle.
func (r *CatalogRepository) ListBundles(ctx context.Context) ([]domain.Product, error) {
	return r.listByKind(ctx, domain.ProductKindBundle)
}

func (r *CatalogRepository) listByKind(ctx context.Context, kind domain.ProductKind) ([]domain.Product, error) {
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("kind", "==", string(kind))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeProduct(doc.ID, doc.Data))
	}
	return out, nil
}

// GetExtras fetches the requested extras in a single batched read.
func (r *CatalogRepository) GetExtras(ctx context.Context, ids []string) ([]domain.Extra, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		refs = append(refs, client.Collection(extraCollection).Doc(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("extras.getAll", err)
	}

	out := make([]domain.Extra, 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := r.extras.Decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Extra{
			ID:    doc.ID,
			Name:  domain.LocalizedText(doc.Data.Name).Clone(),
			Price: doc.Data.Price,
		})
	}
	return out, nil
}

func decodeProduct(id string, doc productDocument) domain.Product {
	kind := domain.ProductKind(strings.ToLower(strings.TrimSpace(doc.Kind)))
	if kind != domain.ProductKindBundle {
		kind = domain.ProductKindSimple
	}
	product := domain.Product{
		ID:        id,
		Kind:      kind,
		Name:      domain.LocalizedText(doc.Name).Clone(),
		Category:  strings.TrimSpace(doc.Category),
		Image:     strings.TrimSpace(doc.Image),
		UnitPrice: doc.UnitPrice,
		Stock:     doc.Stock,
	}
	if kind == domain.ProductKindBundle {
		product.UnitPrice = 0
		product.Contents = append([]domain.BundleContent(nil), doc.Contents...)
		product.EligibleExtras = append([]string(nil), doc.EligibleExtras...)
	}
	return product
}
