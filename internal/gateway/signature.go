package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "Gateway-Signature"

// Verifier checks webhook signatures against the shared secret. Verification
// is pure computation over the raw body; it must finish before any payload
// content is trusted.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier constructs a Verifier. tolerance bounds how old (or how far in
// the future) a signed timestamp may be before the delivery is treated as a
// replay.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

type webhookEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		OrderID    string `json:"order_id"`
		ChargeRef  string `json:"charge_ref"`
		AmountPaid int64  `json:"amount_paid"`
	} `json:"data"`
}

// VerifyAndParse verifies the signature header against the raw body, then
// decodes the payload into a normalized Event. Any signature mismatch,
// malformed header or timestamp outside the tolerance window returns
// ErrSignatureInvalid; the payload is never inspected first.
//
// Header format: "t=<unix seconds>,v1=<hex hmac-sha256 of "<t>.<body>">".
func (v *Verifier) VerifyAndParse(rawBody []byte, header string) (Event, error) {
	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return Event{}, err
	}

	issued := time.Unix(ts, 0)
	if age := v.now().Sub(issued); age > v.tolerance || age < -v.tolerance {
		return Event{}, fmt.Errorf("%w: timestamp outside tolerance window", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Event{}, fmt.Errorf("%w: digest mismatch", ErrSignatureInvalid)
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	if envelope.ID == "" || envelope.Type == "" {
		return Event{}, fmt.Errorf("webhook payload missing id or type")
	}

	return Event{
		EventID:    envelope.ID,
		Type:       envelope.Type,
		OrderID:    envelope.Data.OrderID,
		ChargeRef:  envelope.Data.ChargeRef,
		AmountPaid: envelope.Data.AmountPaid,
		OccurredAt: time.Unix(envelope.Created, 0).UTC(),
	}, nil
}

func parseSignatureHeader(header string) (ts int64, sig []byte, err error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	var tsRaw, sigRaw string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, fmt.Errorf("%w: malformed signature header", ErrSignatureInvalid)
		}
		switch key {
		case "t":
			tsRaw = value
		case "v1":
			sigRaw = value
		}
	}
	if tsRaw == "" || sigRaw == "" {
		return 0, nil, fmt.Errorf("%w: malformed signature header", ErrSignatureInvalid)
	}

	ts, err = strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: malformed timestamp", ErrSignatureInvalid)
	}
	sig, err = hex.DecodeString(sigRaw)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: malformed digest", ErrSignatureInvalid)
	}
	return ts, sig, nil
}

// Sign produces a signature header for the body at the given time. Exported
// for the processor simulator and tests.
func (v *Verifier) Sign(rawBody []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
