package domain

import (
	"testing"
	"time"
)

func TestAdminClaims_Valid(t *testing.T) {
	tests := []struct {
		name    string
		claims  AdminClaims
		wantErr error
	}{
		{
			name: "valid claims",
			claims: AdminClaims{
				Subject:   "ops@foodgate",
				Scopes:    []string{ScopeGatewayAdmin},
				ExpiresAt: time.Now().Add(time.Hour).Unix(),
			},
			wantErr: nil,
		},
		{
			name: "expired token",
			claims: AdminClaims{
				Subject:   "ops@foodgate",
				ExpiresAt: time.Now().Add(-time.Hour).Unix(),
			},
			wantErr: ErrTokenExpired,
		},
		{
			name:    "missing expiry",
			claims:  AdminClaims{Subject: "ops@foodgate"},
			wantErr: ErrTokenMissingExpiry,
		},
		{
			name:    "missing subject",
			claims:  AdminClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()},
			wantErr: ErrTokenInvalidSubject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.claims.Valid()
			if err != tt.wantErr {
				t.Errorf("Valid() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdminClaims_HasScope(t *testing.T) {
	claims := AdminClaims{Scopes: []string{"read", ScopeGatewayAdmin}}

	if !claims.HasScope(ScopeGatewayAdmin) {
		t.Error("expected admin scope to be present")
	}
	if claims.HasScope("write") {
		t.Error("expected write scope to be absent")
	}
}
