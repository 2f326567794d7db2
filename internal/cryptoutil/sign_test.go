package cryptoutil

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	payload := map[string]any{
		"tenant":  "t1",
		"trace":   "trace-1",
		"outcome": 0.8,
	}

	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(signer.PublicKey(), payload, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSignCanonicalizesKeyOrder(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	a := map[string]any{"a": 1, "b": 2}
	b := map[string]any{"b": 2, "a": 1}

	sigA, err := signer.Sign(a)
	if err != nil {
		t.Fatalf("sign a: %v", err)
	}
	sigB, err := signer.Sign(b)
	if err != nil {
		t.Fatalf("sign b: %v", err)
	}
	if string(sigA) != string(sigB) {
		t.Error("expected identical signatures for maps differing only in key order")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	payload := map[string]any{"tenant": "t1"}
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := map[string]any{"tenant": "t2"}
	if err := Verify(signer.PublicKey(), tampered, sig); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	other, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate other signer: %v", err)
	}
	payload := map[string]any{"tenant": "t1"}
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(other.PublicKey(), payload, sig); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
