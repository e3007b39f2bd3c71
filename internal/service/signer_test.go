package service

import "testing"

func TestSignerRoundTrip(t *testing.T) {
	signer, err := NewSigner("response-signing-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	payload := map[string]interface{}{
		"valid":   true,
		"message": "License active",
	}
	token, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	got, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got["valid"] != true {
		t.Errorf("valid: got %v, want true", got["valid"])
	}
	if got["message"] != "License active" {
		t.Errorf("message: got %v, want %q", got["message"], "License active")
	}
}

func TestSignerRejectsWrongSecret(t *testing.T) {
	signer, _ := NewSigner("secret-one")
	other, _ := NewSigner("secret-two")

	token, err := signer.Sign(map[string]interface{}{"valid": false})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected verification to fail with a different secret")
	}
}

func TestSignerRejectsEmptySecret(t *testing.T) {
	if _, err := NewSigner(""); err != ErrNoSigningSecret {
		t.Fatalf("expected ErrNoSigningSecret, got %v", err)
	}
}
