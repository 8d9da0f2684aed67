package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/repositories"
)

// BundleIssueKind classifies a broken bundle reference.
type BundleIssueKind string

const (
	BundleIssueEmpty           BundleIssueKind = "empty_bundle"
	BundleIssueMissingItem     BundleIssueKind = "missing_item"
	BundleIssueNestedBundle    BundleIssueKind = "nested_bundle"
	BundleIssueInvalidQuantity BundleIssueKind = "invalid_quantity"
	BundleIssueMissingExtra    BundleIssueKind = "missing_extra"
)

// BundleIssue is one integrity problem found on a bundle.
type BundleIssue struct {
	BundleID  string          `json:"bundleId"`
	Kind      BundleIssueKind `json:"kind"`
	Reference string          `json:"reference,omitempty"`
}

// IntegrityReport summarises a catalog scan.
type IntegrityReport struct {
	ScannedAt      time.Time     `json:"scannedAt"`
	BundlesScanned int           `json:"bundlesScanned"`
	Issues         []BundleIssue `json:"issues"`
	Location       string        `json:"location,omitempty"`
}

// CatalogIntegrityServiceDeps wires the catalog integrity scanner.
type CatalogIntegrityServiceDeps struct {
	Catalog repositories.CatalogRepository
	Reports ReportWriter
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

// CatalogIntegrityService finds bundles whose contents or eligible extras
// reference records that no longer exist. Such bundles still price with the
// missing lines contributing zero; the scan only reports them.
type CatalogIntegrityService struct {
	catalog repositories.CatalogRepository
	reports ReportWriter
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCatalogIntegrityService constructs the scanner. Reports may be nil, in
// which case Run only logs the result.
func NewCatalogIntegrityService(deps CatalogIntegrityServiceDeps) (*CatalogIntegrityService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog integrity: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CatalogIntegrityService{
		catalog: deps.Catalog,
		reports: deps.Reports,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Scan inspects every bundle and returns the issues found, ordered by bundle id.
func (s *CatalogIntegrityService) Scan(ctx context.Context) (IntegrityReport, error) {
	items, err := s.catalog.ListItems(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("catalog integrity: list items: %w", err)
	}
	bundles, err := s.catalog.ListBundles(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("catalog integrity: list bundles: %w", err)
	}

	itemIDs := make(map[string]struct{}, len(items))
	for _, item := range items {
		itemIDs[item.ID] = struct{}{}
	}
	bundleIDs := make(map[string]struct{}, len(bundles))
	var extraRefs []string
	for _, bundle := range bundles {
		bundleIDs[bundle.ID] = struct{}{}
		extraRefs = append(extraRefs, bundle.EligibleExtras...)
	}

	knownExtras := map[string]struct{}{}
	if ids := domain.SortedExtraIDs(extraRefs); len(ids) > 0 {
		extras, err := s.catalog.GetExtras(ctx, ids)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("catalog integrity: load extras: %w", err)
		}
		for _, extra := range extras {
			knownExtras[extra.ID] = struct{}{}
		}
	}

	report := IntegrityReport{
		ScannedAt:      s.now(),
		BundlesScanned: len(bundles),
		Issues:         []BundleIssue{},
	}
	for _, bundle := range bundles {
		report.Issues = append(report.Issues, inspectBundle(bundle, itemIDs, bundleIDs, knownExtras)...)
	}
	sort.SliceStable(report.Issues, func(i, j int) bool {
		return report.Issues[i].BundleID < report.Issues[j].BundleID
	})
	return report, nil
}

func inspectBundle(bundle domain.Product, items, bundles, extras map[string]struct{}) []BundleIssue {
	var issues []BundleIssue
	if len(bundle.Contents) == 0 {
		issues = append(issues, BundleIssue{BundleID: bundle.ID, Kind: BundleIssueEmpty})
	}
	for _, content := range bundle.Contents {
		ref := strings.TrimSpace(content.ItemID)
		if content.Quantity <= 0 {
			issues = append(issues, BundleIssue{BundleID: bundle.ID, Kind: BundleIssueInvalidQuantity, Reference: ref})
		}
		if _, ok := items[ref]; ok {
			continue
		}
		kind := BundleIssueMissingItem
		if _, nested := bundles[ref]; nested {
			kind = BundleIssueNestedBundle
		}
		issues = append(issues, BundleIssue{BundleID: bundle.ID, Kind: kind, Reference: ref})
	}
	for _, id := range domain.SortedExtraIDs(bundle.EligibleExtras) {
		if _, ok := extras[id]; !ok {
			issues = append(issues, BundleIssue{BundleID: bundle.ID, Kind: BundleIssueMissingExtra, Reference: id})
		}
	}
	return issues
}

// Run scans the catalog and, when a report writer is configured, stores the report.
func (s *CatalogIntegrityService) Run(ctx context.Context) (IntegrityReport, error) {
	report, err := s.Scan(ctx)
	if err != nil {
		s.logger(ctx, "catalog_integrity.scan_failed", map[string]any{"error": err.Error()})
		return IntegrityReport{}, err
	}

	if s.reports != nil {
		name := fmt.Sprintf("catalog-integrity-%s.json", report.ScannedAt.Format("20060102T150405Z"))
		location, err := s.reports.WriteJSON(ctx, name, report)
		if err != nil {
			s.logger(ctx, "catalog_integrity.export_failed", map[string]any{"error": err.Error()})
			return report, fmt.Errorf("catalog integrity: export report: %w", err)
		}
		report.Location = location
	}

	s.logger(ctx, "catalog_integrity.completed", map[string]any{
		"bundles":  report.BundlesScanned,
		"issues":   len(report.Issues),
		"location": report.Location,
	})
	return report, nil
}
