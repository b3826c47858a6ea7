package netpolicy

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, egressIPs []string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /identity/token", func(w http.ResponseWriter, r *http.Request) {
		wantKey := base64.StdEncoding.EncodeToString([]byte("svc:hunter2"))
		if r.Header.Get("x-api-key") != wantKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"tok-123"}`))
	})
	mux.HandleFunc("GET /firewall/flows/proj/clus", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"egress":[`))
		for i, ip := range egressIPs {
			if i > 0 {
				w.Write([]byte(","))
			}
			w.Write([]byte(`{"destination_ip":"` + ip + `"}`))
		}
		w.Write([]byte(`]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, addrs []string) *Client {
	t.Helper()

	cfg := Config{
		BaseURL:   srv.URL,
		ProjectID: "proj",
		ClusterID: "clus",
		User:      "svc",
		Password:  "hunter2",
	}
	resolver := func(context.Context, string) ([]string, error) {
		return addrs, nil
	}
	client, err := NewClient(cfg, srv.Client(), resolver)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestCheckEgress(t *testing.T) {
	tests := []struct {
		name      string
		egressIPs []string
		addrs     []string
		want      bool
	}{
		{
			name:      "rule matches resolved ip",
			egressIPs: []string{"10.1.2.3", "10.9.9.9"},
			addrs:     []string{"10.1.2.3"},
			want:      true,
		},
		{
			name:      "no matching rule",
			egressIPs: []string{"10.9.9.9"},
			addrs:     []string{"10.1.2.3"},
			want:      false,
		},
		{
			name:      "empty rule set",
			egressIPs: nil,
			addrs:     []string{"10.1.2.3"},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.egressIPs)
			client := newTestClient(t, srv, tt.addrs)

			got, err := client.CheckEgress(context.Background(), "sysa.example.com")
			if err != nil {
				t.Fatalf("CheckEgress() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("CheckEgress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckEgressResolverFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	cfg := Config{BaseURL: srv.URL, ProjectID: "proj", ClusterID: "clus", User: "svc", Password: "hunter2"}
	client, err := NewClient(cfg, srv.Client(), func(context.Context, string) ([]string, error) {
		return nil, context.DeadlineExceeded
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.CheckEgress(context.Background(), "sysa.example.com"); err == nil {
		t.Fatal("CheckEgress() expected error when resolution fails")
	}
}
