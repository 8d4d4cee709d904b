package signer

import (
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	s, err := New([]byte("deployment-secret"))
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	exp := time.Now().Add(time.Hour)

	sig := s.Sign("t-1", exp, "10.0.0.1", "u-1")
	if !s.Verify("t-1", exp, "10.0.0.1", "u-1", sig) {
		t.Fatal("expected valid signature")
	}
}

func TestVerify_RejectsFieldSwap(t *testing.T) {
	s, _ := New([]byte("deployment-secret"))
	exp := time.Now().Add(time.Hour)
	sig := s.Sign("t-1", exp, "10.0.0.1", "u-1")

	cases := []struct {
		name                 string
		id, ip, user         string
		expiry               time.Time
	}{
		{"other ticket", "t-2", "10.0.0.1", "u-1", exp},
		{"other ip", "t-1", "10.0.0.2", "u-1", exp},
		{"other user", "t-1", "10.0.0.1", "u-2", exp},
		{"extended expiry", "t-1", "10.0.0.1", "u-1", exp.Add(time.Hour)},
	}
	for _, tc := range cases {
		if s.Verify(tc.id, tc.expiry, tc.ip, tc.user, sig) {
			t.Fatalf("%s: signature should not verify", tc.name)
		}
	}
}

func TestVerify_RejectsBitFlip(t *testing.T) {
	s, _ := New([]byte("deployment-secret"))
	exp := time.Now().Add(time.Hour)
	sig := s.Sign("t-1", exp, "", "u-1")

	b := []byte(sig)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	if s.Verify("t-1", exp, "", "u-1", string(b)) {
		t.Fatal("tampered signature must not verify")
	}
	if s.Verify("t-1", exp, "", "u-1", "not-base64!!") {
		t.Fatal("garbage signature must not verify")
	}
}

func TestKeysDifferPerSecret(t *testing.T) {
	a, _ := New([]byte("secret-a"))
	b, _ := New([]byte("secret-b"))
	exp := time.Unix(1700000000, 0)

	sig := a.Sign("t-1", exp, "", "u-1")
	if b.Verify("t-1", exp, "", "u-1", sig) {
		t.Fatal("signature from another key must not verify")
	}
}

func TestNew_EmptySecret(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
