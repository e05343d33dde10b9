package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPost(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		wantMessage string
	}{
		{name: "accepted", status: http.StatusNoContent},
		{name: "json message", status: http.StatusUnprocessableEntity, body: `{"message":"visitor is blocked"}`, wantErr: true, wantMessage: "visitor is blocked"},
		{name: "plain text", status: http.StatusForbidden, body: "nope\n", wantErr: true, wantMessage: "nope"},
		{name: "empty body", status: http.StatusInternalServerError, wantErr: true, wantMessage: "webhook rejected booking with status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("content-type = %q", ct)
				}
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewClient(0, nil).Post(context.Background(), srv.URL, map[string]string{"booking_id": "b1"})
			if got["booking_id"] != "b1" {
				t.Fatalf("payload = %v", got)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Post error: %v", err)
				}
				return
			}
			var rejected *RejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("error type = %T, want *RejectedError", err)
			}
			if rejected.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", rejected.StatusCode, tt.status)
			}
			if rejected.Error() != tt.wantMessage {
				t.Fatalf("message = %q, want %q", rejected.Error(), tt.wantMessage)
			}
		})
	}
}
