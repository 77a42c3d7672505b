package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       any
		want       int
		wantErr    bool
	}{
		{name: "scammer", statusCode: http.StatusOK, body: map[string]int{"result": 1000}, want: 1000},
		{name: "human", statusCode: http.StatusOK, body: map[string]int{"result": 0}, want: 0},
		{name: "mid confidence", statusCode: http.StatusOK, body: map[string]int{"result": 850}, want: 850},
		{name: "server error", statusCode: http.StatusInternalServerError, body: map[string]string{"error": "boom"}, wantErr: true},
		{name: "not found", statusCode: http.StatusNotFound, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotInput string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					InputString string `json:"input_string"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("bad request body: %v", err)
				}
				gotInput = req.InputString
				w.WriteHeader(tt.statusCode)
				if tt.body != nil {
					_ = json.NewEncoder(w).Encode(tt.body)
				}
			}))
			defer server.Close()

			c := New(server.URL)
			got, err := c.Score(context.Background(), "suspect")
			if tt.wantErr {
				if err == nil {
					t.Fatal("Score() = nil error, want failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("Score() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
			if gotInput != "suspect" {
				t.Errorf("input_string = %q, want suspect", gotInput)
			}
		})
	}
}

func TestScoreUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens here
	if _, err := c.Score(context.Background(), "anyone"); err == nil {
		t.Fatal("Score() = nil error, want transport failure")
	}
}
