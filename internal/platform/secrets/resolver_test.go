package secrets

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

type stubSecretClient struct {
	values   map[string]string
	requests []string
}

func (s *stubSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.requests = append(s.requests, req.GetName())
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubSecretClient) Close() error { return nil }

func TestResolverResolvesAndCaches(t *testing.T) {
	client := &stubSecretClient{values: map[string]string{
		"projects/baqala/secrets/guest-signing/versions/latest": "s3cr3t",
	}}
	resolver, err := NewResolver(context.Background(), "baqala", []Option{WithClient(client)})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	for i := 0; i < 2; i++ {
		value, err := resolver.ResolveSecret(context.Background(), "secret://guest/signing")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if value != "s3cr3t" {
			t.Fatalf("unexpected secret %q", value)
		}
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected cached second lookup, got %d requests", len(client.requests))
	}
}

func TestResolverResourceNames(t *testing.T) {
	resolver := &Resolver{projectID: "baqala", cache: map[string]string{}}
	cases := map[string]string{
		"secret://guest-signing":                         "projects/baqala/secrets/guest-signing/versions/latest",
		"secret://guest-signing@3":                       "projects/baqala/secrets/guest-signing/versions/3",
		"secret://projects/other/secrets/key":            "projects/other/secrets/key/versions/latest",
		"secret://projects/other/secrets/key/versions/7": "projects/other/secrets/key/versions/7",
	}
	for ref, want := range cases {
		got, err := resolver.resourceName(ref)
		if err != nil {
			t.Fatalf("resourceName(%q): %v", ref, err)
		}
		if got != want {
			t.Fatalf("resourceName(%q) = %q, want %q", ref, got, want)
		}
	}
	if _, err := resolver.resourceName("plain-value"); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestLazyResolverDefersProjectLookup(t *testing.T) {
	client := &stubSecretClient{values: map[string]string{
		"projects/late/secrets/guest/versions/latest": "value",
	}}
	calls := 0
	lazy := NewLazyResolver(func() string {
		calls++
		return "late"
	}, WithClient(client))

	if calls != 0 {
		t.Fatalf("expected project id to be read lazily, got %d calls", calls)
	}
	for i := 0; i < 2; i++ {
		value, err := lazy.ResolveSecret(context.Background(), "secret://guest")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if value != "value" {
			t.Fatalf("unexpected secret %q", value)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single resolver construction, got %d", calls)
	}
	if err := lazy.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
