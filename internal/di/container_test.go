package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pagecraft/api/internal/platform/config"
)

func containerConfig(baseURL string, timeout time.Duration) config.Config {
	return config.Config{
		Providers: config.ProvidersConfig{
			Printful: config.ProviderConfig{APIKey: "pf-key", BaseURL: baseURL},
			Timeout:  timeout,
		},
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	container, err := NewContainer(context.Background(), containerConfig("https://api.example.com", 0), Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}
	if container.Services.Production == nil || container.Services.Orders == nil {
		t.Fatal("expected both services to be wired")
	}
	if tags := container.Providers.Tags(); len(tags) != 1 || tags[0] != "printful" {
		t.Fatalf("unexpected provider tags %v", tags)
	}
}

func TestNewContainerRequiresProvider(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, Infrastructure{}); err == nil {
		t.Fatal("expected error when no provider is configured")
	}
}

func TestNewContainerAppliesProviderTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(250 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"code":200,"result":{"id":4411,"status":"fulfilled"}}`))
	}))
	defer slow.Close()

	short, err := NewContainer(context.Background(), containerConfig(slow.URL, 30*time.Millisecond), Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}
	provider, err := short.Providers.Provider("printful")
	if err != nil {
		t.Fatalf("Provider returned error: %v", err)
	}
	if _, err := provider.Track(context.Background(), "4411"); err == nil {
		t.Fatal("expected the configured timeout to abort the slow provider call")
	}

	patient, err := NewContainer(context.Background(), containerConfig(slow.URL, 2*time.Second), Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}
	provider, err = patient.Providers.Provider("printful")
	if err != nil {
		t.Fatalf("Provider returned error: %v", err)
	}
	if _, err := provider.Track(context.Background(), "4411"); err != nil {
		t.Fatalf("Track should succeed within the configured timeout: %v", err)
	}
}
