package main

import (
	"strings"
	"testing"
)

func TestParseSeed(t *testing.T) {
	t.Parallel()

	data := []byte(`
contacts:
  - user_id: client-1
    email: " Ada Lovelace <ada@example.com> "
    name: Ada
    email_verified: true
  - user_id: client-2
    name: No Mail
    email_verified: true
`)
	contacts, err := parseSeed(data)
	if err != nil {
		t.Fatalf("parseSeed() error = %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len(contacts) = %d, want 2", len(contacts))
	}
	if contacts[0].Email != "ada@example.com" {
		t.Fatalf("Email = %q, want bare address", contacts[0].Email)
	}
	if !contacts[0].CanEmail() {
		t.Fatalf("client-1 should be emailable")
	}
	if contacts[1].EmailVerified {
		t.Fatalf("a contact without email cannot be verified")
	}
}

func TestParseSeed_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "missing user id", data: "contacts:\n  - email: a@example.com\n", want: "user_id is required"},
		{name: "duplicate user id", data: "contacts:\n  - user_id: u\n  - user_id: u\n", want: "duplicate user_id"},
		{name: "bad email", data: "contacts:\n  - user_id: u\n    email: not-an-address\n", want: "invalid email"},
		{name: "bad yaml", data: "contacts: [", want: "parse seed file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseSeed([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("parseSeed() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
