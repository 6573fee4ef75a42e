package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"leadwire/internal/domain"
)

func TestTwilio_MapStatus(t *testing.T) {
	tw := NewTwilio(TwilioConfig{Logger: testLogger()})

	cases := []struct {
		raw  string
		want domain.MessageStatus
	}{
		{"queued", domain.StatusSent},
		{"sending", domain.StatusSent},
		{"sent", domain.StatusSent},
		{"delivered", domain.StatusDelivered},
		{"read", domain.StatusRead},
		{"undelivered", domain.StatusFailed},
		{"failed", domain.StatusFailed},
		{"DELIVERED", domain.StatusDelivered}, // case-insensitive
	}
	for _, tc := range cases {
		got, err := tw.MapStatus(tc.raw)
		if err != nil {
			t.Errorf("MapStatus(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("MapStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}

	if _, err := tw.MapStatus("something-new"); err == nil {
		t.Error("unknown status should error")
	}
}

func TestTwilio_SendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("To") != "+15551230000" {
			t.Errorf("To = %q", r.PostForm.Get("To"))
		}
		if r.PostForm.Get("Body") != "hello" {
			t.Errorf("Body = %q", r.PostForm.Get("Body"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{
		AccountSID: "AC1", AuthToken: "tok", From: "+15550001111",
		APIBase: srv.URL, Logger: testLogger(),
	})

	receipt, err := tw.Send(context.Background(), domain.SendRequest{
		MessageID: "m1", To: "+15551230000", Body: "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.ProviderMessageID != "SM123" {
		t.Fatalf("provider ref = %q", receipt.ProviderMessageID)
	}
}

func TestTwilio_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{AccountSID: "AC1", APIBase: srv.URL, Logger: testLogger()})
	_, err := tw.Send(context.Background(), domain.SendRequest{To: "+15551230000", Body: "x"})

	var transient *domain.TransientProviderError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientProviderError, got %v", err)
	}
}

func TestTwilio_RejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"invalid 'To' number"}`))
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{AccountSID: "AC1", APIBase: srv.URL, Logger: testLogger()})
	_, err := tw.Send(context.Background(), domain.SendRequest{To: "garbage", Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	var transient *domain.TransientProviderError
	if errors.As(err, &transient) {
		t.Fatal("carrier rejection must not be transient")
	}
}

func TestVonage_MapStatus(t *testing.T) {
	vg := NewVonage(VonageConfig{Logger: testLogger()})

	cases := []struct {
		raw  string
		want domain.MessageStatus
	}{
		{"accepted", domain.StatusSent},
		{"buffered", domain.StatusSent},
		{"delivered", domain.StatusDelivered},
		{"expired", domain.StatusExpired},
		{"failed", domain.StatusFailed},
		{"rejected", domain.StatusFailed},
	}
	for _, tc := range cases {
		got, err := vg.MapStatus(tc.raw)
		if err != nil {
			t.Errorf("MapStatus(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("MapStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestVonage_SendThrottledIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[{"message-id":"","status":"1","error-text":"Throughput Rate Exceeded"}]}`))
	}))
	defer srv.Close()

	vg := NewVonage(VonageConfig{APIKey: "k", APISecret: "s", APIBase: srv.URL, Logger: testLogger()})
	_, err := vg.Send(context.Background(), domain.SendRequest{To: "+15551230000", Body: "x"})

	var transient *domain.TransientProviderError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientProviderError, got %v", err)
	}
}

func TestVonage_SendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[{"message-id":"0A001","status":"0"}]}`))
	}))
	defer srv.Close()

	vg := NewVonage(VonageConfig{APIKey: "k", APISecret: "s", APIBase: srv.URL, Logger: testLogger()})
	receipt, err := vg.Send(context.Background(), domain.SendRequest{To: "+15551230000", Body: "x"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.ProviderMessageID != "0A001" {
		t.Fatalf("provider ref = %q", receipt.ProviderMessageID)
	}
}
