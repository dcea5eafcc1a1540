package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/db"
)

// MaxSearchResults caps a till product search.
const MaxSearchResults = 20

// Match is one product search hit.
type Match struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	SalePrice decimal.Decimal `json:"salePrice"`
	OnHand    int             `json:"onHand"`
}

// Searcher finds products by code prefix or name.
type Searcher interface {
	Search(ctx context.Context, q string, limit int) ([]Match, error)
}

func searchLimit(limit int) int {
	if limit <= 0 || limit > MaxSearchResults {
		return MaxSearchResults
	}
	return limit
}

// mergeMatches lists code-prefix hits before name hits, dropping duplicates.
func mergeMatches(byCode, byName []Match, limit int) []Match {
	out := make([]Match, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, group := range [][]Match{byCode, byName} {
		for _, m := range group {
			if len(out) == limit {
				return out
			}
			if _, dup := seen[m.Code]; dup {
				continue
			}
			seen[m.Code] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

func matchOf(p Product) Match {
	return Match{Code: p.Code, Name: p.Name, SalePrice: p.SalePrice, OnHand: p.OnHand}
}

// Search implements Searcher. Matching is case-insensitive.
func (m *Memory) Search(_ context.Context, q string, limit int) ([]Match, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []Match{}, nil
	}
	limit = searchLimit(limit)

	m.mu.RLock()
	var byCode, byName []Match
	for _, p := range m.products {
		if strings.HasPrefix(strings.ToLower(p.Code), q) {
			byCode = append(byCode, matchOf(p))
		}
		if strings.Contains(strings.ToLower(p.Name), q) {
			byName = append(byName, matchOf(p))
		}
	}
	m.mu.RUnlock()

	sort.Slice(byCode, func(i, j int) bool { return byCode[i].Code < byCode[j].Code })
	sort.Slice(byName, func(i, j int) bool {
		if byName[i].Name != byName[j].Name {
			return byName[i].Name < byName[j].Name
		}
		return byName[i].Code < byName[j].Code
	})
	return mergeMatches(byCode, byName, limit), nil
}

const (
	searchByCode = `SELECT code, name, sale_price::text, on_hand FROM products
WHERE code ILIKE $1 || '%' ORDER BY code LIMIT $2`
	searchByName = `SELECT code, name, sale_price::text, on_hand FROM products
WHERE name ILIKE '%' || $1 || '%' ORDER BY name, code LIMIT $2`
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search implements Searcher with two ILIKE queries.
func (s Postgres) Search(ctx context.Context, q string, limit int) ([]Match, error) {
	if s.DB == nil {
		return nil, errors.New("catalog store not configured")
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return []Match{}, nil
	}
	limit = searchLimit(limit)
	pattern := likeEscaper.Replace(q)

	byCode, err := s.search(ctx, searchByCode, pattern, limit)
	if err != nil {
		return nil, err
	}
	var byName []Match
	if len(byCode) < limit {
		if byName, err = s.search(ctx, searchByName, pattern, limit); err != nil {
			return nil, err
		}
	}
	return mergeMatches(byCode, byName, limit), nil
}

func (s Postgres) search(ctx context.Context, query, pattern string, limit int) ([]Match, error) {
	rows, err := s.DB.Query(ctx, query, pattern, limit)
	if err != nil {
		return nil, common.Persistence("search products", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var (
			m     Match
			price string
		)
		if err := row.Scan(&m.Code, &m.Name, &price, &m.OnHand); err != nil {
			return Match{}, err
		}
		p, err := db.ParseNum(price)
		if err != nil {
			return Match{}, err
		}
		m.SalePrice = p
		return m, nil
	})
	if err != nil {
		return nil, common.Persistence("scan product matches", err)
	}
	return out, nil
}
