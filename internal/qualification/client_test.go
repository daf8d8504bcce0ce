package qualification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/glass-allocation/internal/models"
)

func TestQualifiedParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("shop_id") != "s1" {
			t.Errorf("missing shop_id: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"qualified": true, "technician_count": 2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ok, err := c.Qualified(context.Background(), "s1", models.ServiceRepair, "stone_chip", "Toyota")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected qualified")
	}
}

func TestQualifiedFalseOnZeroTechnicians(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"qualified": true, "technician_count": 0}`))
	}))
	defer srv.Close()

	ok, err := NewClient(srv.URL).Qualified(context.Background(), "s1", models.ServiceRepair, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("a qualified flag without technicians must not count")
	}
}

func TestQualifiedErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Qualified(context.Background(), "s1", models.ServiceRepair, "", ""); err == nil {
		t.Fatal("expected error on 503")
	}
}
