package gateway

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      "evt_1",
		"type":    EventPaymentCompleted,
		"created": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix(),
		"data": map[string]any{
			"order_id":    "o-1",
			"charge_ref":  "ch_1",
			"amount_paid": 9900,
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("whsec_abc", 5*time.Minute)
	body := testBody(t)

	ev, err := v.VerifyAndParse(body, v.Sign(body, time.Now()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.EventID != "evt_1" || ev.Type != EventPaymentCompleted {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.OrderID != "o-1" || ev.ChargeRef != "ch_1" || ev.AmountPaid != 9900 {
		t.Fatalf("unexpected event data: %+v", ev)
	}
	if !ev.OccurredAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurred at = %v", ev.OccurredAt)
	}
}

func TestVerifier_WrongSecret(t *testing.T) {
	v := NewVerifier("whsec_abc", 5*time.Minute)
	forger := NewVerifier("whsec_other", 5*time.Minute)
	body := testBody(t)

	if _, err := v.VerifyAndParse(body, forger.Sign(body, time.Now())); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifier_TamperedBody(t *testing.T) {
	v := NewVerifier("whsec_abc", 5*time.Minute)
	body := testBody(t)
	header := v.Sign(body, time.Now())

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = 'X'

	if _, err := v.VerifyAndParse(tampered, header); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifier_ReplayOutsideTolerance(t *testing.T) {
	v := NewVerifier("whsec_abc", 5*time.Minute)
	body := testBody(t)

	stale := v.Sign(body, time.Now().Add(-10*time.Minute))
	if _, err := v.VerifyAndParse(body, stale); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("stale: err = %v, want ErrSignatureInvalid", err)
	}

	future := v.Sign(body, time.Now().Add(10*time.Minute))
	if _, err := v.VerifyAndParse(body, future); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("future: err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifier_MalformedHeaders(t *testing.T) {
	v := NewVerifier("whsec_abc", 5*time.Minute)
	body := testBody(t)

	headers := []string{
		"",
		"v1=deadbeef",
		"t=123",
		"t=notanumber,v1=deadbeef",
		"t=123,v1=zzzz",
		"garbage",
	}
	for _, header := range headers {
		if _, err := v.VerifyAndParse(body, header); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("header %q: err = %v, want ErrSignatureInvalid", header, err)
		}
	}
}

func TestVerifier_AuthenticGarbagePayload(t *testing.T) {
	v := NewVerifier("whsec_abc", 5*time.Minute)
	body := []byte("not json")

	_, err := v.VerifyAndParse(body, v.Sign(body, time.Now()))
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("decode failure misreported as signature failure: %v", err)
	}
}
