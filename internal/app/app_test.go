package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abelzeko/sensor-archive/internal/config"
	"github.com/abelzeko/sensor-archive/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(dir, "db", "sensors.db")
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Archive.BaseURL = "http://127.0.0.1:1"
	cfg.Archive.Timeout = time.Second
	cfg.Catalog.URL = "http://127.0.0.1:1/data.json"
	cfg.Connectivity.URL = "http://127.0.0.1:1/"
	cfg.Connectivity.Timeout = time.Second
	return cfg
}

func TestBuild(t *testing.T) {
	registry := prometheus.NewRegistry()

	a, err := Build(context.Background(), testConfig(t), logging.Nop(), Options{Registry: registry, WithAssistant: true})
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.Close()

	if a.UseCase == nil || a.Fetcher == nil || a.Index == nil {
		t.Fatal("Expected all components to be wired")
	}
	if len(a.UseCase.SensorIDs()) != 0 {
		t.Errorf("Expected an empty store, got %v", a.UseCase.SensorIDs())
	}

	// Nothing listens on port 1
	if err := a.UseCase.CheckConnection(context.Background()); err == nil {
		t.Error("Expected the connectivity check to fail")
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected metrics to be registered")
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = ""

	if _, err := Build(context.Background(), cfg, logging.Nop(), Options{}); err == nil {
		t.Fatal("Expected an invalid configuration error")
	}
}

func TestImportCatalogInBackground(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"sensor": {"id": 300, "sensor_type": {"name": "SCD30"}}, "location": {"indoor": 1}}]`)
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Catalog.URL = server.URL + "/data.json"
	a, err := Build(context.Background(), cfg, logging.Nop(), Options{})
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.Close()

	select {
	case err := <-a.ImportCatalogInBackground(context.Background()):
		if err != nil {
			t.Fatalf("Catalog import failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Catalog import did not finish")
	}

	types, err := a.UseCase.ListSensorTypes(context.Background())
	if err != nil {
		t.Fatalf("Failed to list types: %v", err)
	}
	if !slices.Contains(types, "scd30") {
		t.Errorf("Expected scd30 from the directory, got %v", types)
	}
	if typ, found, _ := a.Repo.SensorType(context.Background(), 300); !found || typ != "scd30" {
		t.Errorf("Expected sensor 300 to be paired with scd30, got %q", typ)
	}
}

func TestImportCatalogInBackground_Unreachable(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), logging.Nop(), Options{})
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.Close()

	if err := <-a.ImportCatalogInBackground(context.Background()); err == nil {
		t.Error("Expected an error when the directory is unreachable")
	}
	// The default catalog stays usable
	if types, _ := a.UseCase.ListSensorTypes(context.Background()); len(types) == 0 {
		t.Error("Expected the stored catalog to survive a failed import")
	}
}
