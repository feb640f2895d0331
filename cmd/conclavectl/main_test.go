package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "empty",
			args: []string{},
			want: map[string]string{},
		},
		{
			name: "single flag",
			args: []string{"--protocol", "debate"},
			want: map[string]string{"protocol": "debate"},
		},
		{
			name: "multiple flags",
			args: []string{"--protocol", "delphi", "--question", "how many?", "--rounds", "3"},
			want: map[string]string{"protocol": "delphi", "question": "how many?", "rounds": "3"},
		},
		{
			name: "flag without value is ignored",
			args: []string{"--protocol"},
			want: map[string]string{},
		},
		{
			name: "non-flag args ignored",
			args: []string{"positional", "--id", "run-1"},
			want: map[string]string{"id": "run-1"},
		},
		{
			name: "short prefix not treated as flag",
			args: []string{"-p", "debate"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if len(got) != len(tt.want) {
				t.Errorf("parseArgs(%v) returned %d entries, want %d", tt.args, len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, got[k], v)
				}
			}
		})
	}
}

func TestAPIRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/runs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Write([]byte(`{"run_id":"run-1"}`))
	}))
	defer srv.Close()

	t.Setenv("CONCLAVE_URL", srv.URL)
	t.Setenv("CONCLAVE_TOKEN", "sekrit")

	data, err := apiRequest("POST", "/api/runs", map[string]any{"protocol_id": "debate"})
	if err != nil {
		t.Fatalf("apiRequest: %v", err)
	}
	if string(data) != `{"run_id":"run-1"}` {
		t.Errorf("unexpected response body: %s", data)
	}
}

func TestAPIRequestErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown protocol \"nope\""}`))
	}))
	defer srv.Close()

	t.Setenv("CONCLAVE_URL", srv.URL)
	t.Setenv("CONCLAVE_TOKEN", "")

	_, err := apiRequest("POST", "/api/runs", map[string]any{"protocol_id": "nope"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != `unknown protocol "nope"` {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short, 10) = %q", got)
	}
	if got := truncate("a very long question indeed", 10); got != "a very ..." {
		t.Errorf("truncate long = %q", got)
	}
	if got := truncate("exactly-10", 10); got != "exactly-10" {
		t.Errorf("truncate boundary = %q", got)
	}
}
