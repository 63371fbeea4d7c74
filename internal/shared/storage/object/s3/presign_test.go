package s3

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func newTestStore() *Store {
	client := s3.New(s3.Options{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDTEST", SecretAccessKey: "secret"}, nil
		}),
	})
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  "servicesift-artifacts",
		prefix:  "prod",
	}
}

func TestPresignGetIncludesExpiry(t *testing.T) {
	store := newTestStore()

	raw, err := store.PresignGet(context.Background(), "reports/a1/report.json", 5*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.HasPrefix(raw, "https://") {
		t.Fatalf("expected https url, got %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "300" {
		t.Fatalf("expected X-Amz-Expires=300, got %q", got)
	}
	if !strings.Contains(u.Path, "prod/reports/a1/report.json") {
		t.Fatalf("expected prefixed key in path, got %s", u.Path)
	}
}
