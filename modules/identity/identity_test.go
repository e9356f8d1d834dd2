package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/collab-realtime/domain/collab"
)

var alice = collab.Identity{
	UserID:          "u-1",
	UserName:        "Alice",
	UserRole:        "teacher",
	EstablishmentID: "est-1",
}

func TestClaimProvider_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		claim   collab.Identity
		wantErr bool
	}{
		{name: "complete claim", claim: alice},
		{name: "missing user id", claim: collab.Identity{UserName: "A", UserRole: "r", EstablishmentID: "e"}, wantErr: true},
		{name: "blank user name", claim: collab.Identity{UserID: "u", UserName: "   ", UserRole: "r", EstablishmentID: "e"}, wantErr: true},
		{name: "missing establishment", claim: collab.Identity{UserID: "u", UserName: "A", UserRole: "r"}, wantErr: true},
		{name: "role too long", claim: collab.Identity{UserID: "u", UserName: "A", UserRole: strings.Repeat("r", 33), EstablishmentID: "e"}, wantErr: true},
	}

	provider := NewClaimProvider(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := provider.Resolve(context.Background(), collab.IdentityClaim{Identity: tt.claim})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, collab.ErrIdentityInvalid) {
					t.Errorf("Resolve() error = %v, want ErrIdentityInvalid", err)
				}
				return
			}
			if got != tt.claim {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.claim)
			}
		})
	}
}

func TestClaimProvider_ReportsJSONFieldNames(t *testing.T) {
	_, err := NewClaimProvider(nil).Resolve(context.Background(), collab.IdentityClaim{})
	if err == nil || !strings.Contains(err.Error(), "userId") {
		t.Errorf("Resolve() error = %v, want it to name userId", err)
	}
}

func TestTokenManager_IssueAndVerify(t *testing.T) {
	manager := NewTokenManager(TokenConfig{SecretKey: "test-secret-key", Issuer: "test-issuer"})

	token, err := manager.Issue(alice)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := manager.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got := claims.Identity(); got != alice {
		t.Errorf("claims.Identity() = %+v, want %+v", got, alice)
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("claims.Issuer = %v, want %v", claims.Issuer, "test-issuer")
	}
}

func TestTokenManager_Verify_Failures(t *testing.T) {
	manager := NewTokenManager(TokenConfig{SecretKey: "test-secret-key"})
	other := NewTokenManager(TokenConfig{SecretKey: "another-secret"})
	expired := NewTokenManager(TokenConfig{SecretKey: "test-secret-key", Duration: -time.Minute})

	foreign, _ := other.Issue(alice)
	stale, _ := expired.Issue(alice)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "garbage", token: "not-a-token", wantErr: ErrInvalidToken},
		{name: "wrong secret", token: foreign, wantErr: ErrInvalidToken},
		{name: "expired", token: stale, wantErr: ErrExpiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.Verify(tt.token); !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenProvider_Resolve(t *testing.T) {
	manager := NewTokenManager(TokenConfig{SecretKey: "test-secret-key"})
	provider := NewTokenProvider(manager, nil)
	token, _ := manager.Issue(alice)

	// Plain fields are ignored in favour of the token.
	claim := collab.IdentityClaim{
		Identity: collab.Identity{UserID: "mallory", UserName: "M", UserRole: "admin", EstablishmentID: "x"},
		Token:    token,
	}
	got, err := provider.Resolve(context.Background(), claim)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != alice {
		t.Errorf("Resolve() = %+v, want %+v", got, alice)
	}

	if _, err := provider.Resolve(context.Background(), collab.IdentityClaim{Identity: alice}); !errors.Is(err, collab.ErrIdentityInvalid) {
		t.Errorf("Resolve(no token) error = %v, want ErrIdentityInvalid", err)
	}
}

func TestPayloads_Struct(t *testing.T) {
	payloads := NewPayloads(nil)

	if err := payloads.Struct(collab.ChatMessageData{Message: "hello"}); err != nil {
		t.Errorf("Struct(valid chat) error = %v", err)
	}

	tests := []struct {
		name string
		in   any
	}{
		{name: "empty chat", in: collab.ChatMessageData{}},
		{name: "blank chat", in: collab.ChatMessageData{Message: " \t"}},
		{name: "oversized chat", in: collab.ChatMessageData{Message: strings.Repeat("a", 5001)}},
		{name: "draw without data", in: collab.WhiteboardDrawData{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := payloads.Struct(tt.in)
			if !errors.Is(err, collab.ErrInvalidMessage) {
				t.Errorf("Struct() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}
