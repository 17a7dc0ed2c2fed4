package webhooks

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotify_SignsAndDelivers(t *testing.T) {
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("shh", slog.Default())
	n.Notify(t.Context(), srv.URL, Event{Type: EventSettlementConfirmed, ServiceID: "svc_1", TxHash: "0xabc"})

	if gotSig == "" {
		t.Fatal("expected a signature header to be set")
	}
	if gotBody == "" {
		t.Fatal("expected a request body")
	}
}

func TestNotify_EmptyURLIsNoop(t *testing.T) {
	n := NewNotifier("", slog.Default())
	n.Notify(t.Context(), "", Event{Type: EventSettlementConfirmed})
}
