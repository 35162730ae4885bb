package domain

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Token is a user-tracked asset.
type Token struct {
	ID        uuid.UUID
	Symbol    string
	Visible   bool
	SortOrder int
}

func NewToken(symbol string, visible bool, sortOrder int) Token {
	return Token{
		ID:        uuid.New(),
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Visible:   visible,
		SortOrder: sortOrder,
	}
}

// DefaultTokens is the watchlist used when none is configured.
func DefaultTokens() []Token {
	syms := []string{"BTC", "ETH", "SOL", "BNB", "XMR"}
	out := make([]Token, 0, len(syms))
	for i, s := range syms {
		out = append(out, NewToken(s, true, i))
	}
	return out
}

// SubscribedSymbols returns de-duplicated symbols in sort order, honoring scope.
func SubscribedSymbols(tokens []Token, scope SubscriptionScope) []string {
	sorted := make([]Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	out := make([]string, 0, len(sorted))
	seen := make(map[string]struct{}, len(sorted))
	for _, t := range sorted {
		if scope != ScopeAll && !t.Visible {
			continue
		}
		if t.Symbol == "" {
			continue
		}
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		out = append(out, t.Symbol)
	}
	return out
}
