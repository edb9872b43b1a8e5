package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// Seed is the JSON shape accepted by LoadSeed.
type Seed struct {
	Investors []struct {
		ID      string          `json:"id"`
		Name    string          `json:"name"`
		Balance decimal.Decimal `json:"balance"`
	} `json:"investors"`
	Staff []struct {
		ID    string      `json:"id"`
		Name  string      `json:"name"`
		Email string      `json:"email"`
		Role  domain.Role `json:"role"`
	} `json:"staff"`
}

// LoadSeed reads a seed file and inserts its records in one transaction.
func LoadSeed(ctx context.Context, store *Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	now := time.Now().UTC()
	return store.WithinTx(ctx, func(ctx context.Context) error {
		for _, inv := range seed.Investors {
			if err := store.Investors().Create(ctx, &domain.Investor{ID: inv.ID, Name: inv.Name, Balance: inv.Balance, CreatedAt: now, UpdatedAt: now}); err != nil {
				return fmt.Errorf("seed investor %s: %w", inv.ID, err)
			}
		}
		for _, member := range seed.Staff {
			if !member.Role.Valid() {
				return fmt.Errorf("seed staff %s: invalid role %q", member.ID, member.Role)
			}
			if err := store.Staff().Create(ctx, &domain.StaffMember{ID: member.ID, Name: member.Name, Email: member.Email, Role: member.Role, Active: true}); err != nil {
				return fmt.Errorf("seed staff %s: %w", member.ID, err)
			}
		}
		return nil
	})
}
