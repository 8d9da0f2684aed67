package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	referenceScheme = "secret://"
	latestVersion   = "latest"
	meterName       = "github.com/baqala/storefront/internal/platform/secrets"
)

// ErrInvalidReference is returned for references that are not secret:// URIs.
var ErrInvalidReference = errors.New("secrets: invalid secret reference")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver resolves secret:// references against Secret Manager, caching
// values for the lifetime of the process.
type Resolver struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]string

	lookups metric.Int64Counter
}

// Option customises Resolver construction.
type Option func(*Resolver)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClient injects a preconfigured Secret Manager client.
func WithClient(client secretManagerClient) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// NewResolver builds a Resolver for the given default project. When no client
// is injected, one is created with clientOpts.
func NewResolver(ctx context.Context, projectID string, opts []Option, clientOpts ...option.ClientOption) (*Resolver, error) {
	r := &Resolver{
		projectID: strings.TrimSpace(projectID),
		logger:    zap.NewNop(),
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	counter, err := otel.GetMeterProvider().Meter(meterName).Int64Counter(
		"secrets.lookups",
		metric.WithDescription("Secret reference lookups by outcome"),
	)
	if err != nil {
		r.logger.Warn("secrets: unable to register lookup metric", zap.Error(err))
	}
	r.lookups = counter

	if r.client == nil {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
		}
		r.client = client
		r.ownsClient = true
	}
	return r, nil
}

// ResolveSecret implements config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, err := r.resourceName(ref)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if value, ok := r.cache[name]; ok {
		r.mu.Unlock()
		r.record(ctx, "cache")
		return value, nil
	}
	r.mu.Unlock()

	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		r.record(ctx, "error")
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	if resp.GetPayload() == nil {
		r.record(ctx, "error")
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	value := string(resp.GetPayload().GetData())

	r.mu.Lock()
	r.cache[name] = value
	r.mu.Unlock()
	r.record(ctx, "remote")
	r.logger.Debug("secrets: resolved", zap.String("secret", name))
	return value, nil
}

// Close releases the Secret Manager client when the Resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// resourceName accepts secret://name, secret://name@version and
// secret://projects/p/secrets/name[/versions/v].
func (r *Resolver) resourceName(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, referenceScheme) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	path := strings.Trim(strings.TrimPrefix(ref, referenceScheme), "/")
	if path == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}

	if strings.HasPrefix(path, "projects/") {
		parts := strings.Split(path, "/")
		switch {
		case len(parts) == 4 && parts[2] == "secrets":
			return path + "/versions/" + latestVersion, nil
		case len(parts) == 6 && parts[2] == "secrets" && parts[4] == "versions":
			return path, nil
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}

	name, version, ok := strings.Cut(path, "@")
	if !ok || strings.TrimSpace(version) == "" {
		version = latestVersion
	}
	if strings.Contains(name, "/") {
		name = strings.ReplaceAll(name, "/", "-")
	}
	if r.projectID == "" {
		return "", fmt.Errorf("secrets: project id required to resolve %q", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.projectID, name, strings.TrimSpace(version)), nil
}

func (r *Resolver) record(ctx context.Context, outcome string) {
	if r.lookups == nil {
		return
	}
	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// LazyResolver creates the Secret Manager client on the first lookup, so
// processes whose configuration carries no secret references never dial it.
type LazyResolver struct {
	projectID func() string
	opts      []Option

	once     sync.Once
	resolver *Resolver
	err      error
}

// NewLazyResolver returns a LazyResolver. projectID is evaluated on first use.
func NewLazyResolver(projectID func() string, opts ...Option) *LazyResolver {
	return &LazyResolver{projectID: projectID, opts: opts}
}

// ResolveSecret implements config.SecretResolver.
func (l *LazyResolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	l.once.Do(func() {
		var projectID string
		if l.projectID != nil {
			projectID = l.projectID()
		}
		l.resolver, l.err = NewResolver(ctx, projectID, l.opts)
	})
	if l.err != nil {
		return "", l.err
	}
	return l.resolver.ResolveSecret(ctx, ref)
}

// Close releases the underlying resolver if one was created.
func (l *LazyResolver) Close() error {
	if l.resolver == nil {
		return nil
	}
	return l.resolver.Close()
}
