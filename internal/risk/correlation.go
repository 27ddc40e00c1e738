package risk

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Group is a set of correlated symbols.
//
// MaxPositions 0 makes the members mutually exclusive. N > 0 allows up to N
// open members at once; ReduceFactor, when positive, scales the size of a
// trade opened next to other open members.
type Group struct {
	Symbols      []string
	MaxPositions int
	ReduceFactor decimal.Decimal
}

func (g Group) contains(symbol string) bool {
	for _, s := range g.Symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// ParseGroups parses "A/B|C/D;E/F|G/H" into mutually exclusive groups.
func ParseGroups(raw string) []Group {
	var groups []Group
	for _, part := range strings.Split(raw, ";") {
		var symbols []string
		for _, s := range strings.Split(part, "|") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 1 {
			groups = append(groups, Group{Symbols: symbols})
		}
	}
	return groups
}

type groupFile struct {
	Groups []struct {
		Symbols      []string `yaml:"symbols"`
		MaxPositions int      `yaml:"max_positions"`
		ReduceFactor string   `yaml:"reduce_factor"` // parsed as decimal
	} `yaml:"groups"`
}

// LoadGroupsFile reads correlation groups from a YAML document:
//
//	groups:
//	  - symbols: [BTC/USDT, ETH/USDT]
//	    max_positions: 2
//	    reduce_factor: 0.5
func LoadGroupsFile(path string) ([]Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read correlation groups: %w", err)
	}
	return ParseGroupsYAML(data)
}

// ParseGroupsYAML decodes the LoadGroupsFile format.
func ParseGroupsYAML(data []byte) ([]Group, error) {
	var f groupFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode correlation groups: %w", err)
	}
	groups := make([]Group, 0, len(f.Groups))
	for i, g := range f.Groups {
		if len(g.Symbols) < 2 {
			return nil, fmt.Errorf("correlation group %d: needs at least two symbols", i)
		}
		if g.MaxPositions < 0 {
			return nil, fmt.Errorf("correlation group %d: max_positions must be >= 0", i)
		}
		factor := decimal.Zero
		if raw := strings.TrimSpace(g.ReduceFactor); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("correlation group %d: reduce_factor %q: %w", i, raw, err)
			}
			factor = v
		}
		if factor.IsNegative() || factor.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("correlation group %d: reduce_factor must be within [0,1]", i)
		}
		symbols := make([]string, len(g.Symbols))
		for j, s := range g.Symbols {
			symbols[j] = strings.ToUpper(strings.TrimSpace(s))
		}
		groups = append(groups, Group{
			Symbols:      symbols,
			MaxPositions: g.MaxPositions,
			ReduceFactor: factor,
		})
	}
	return groups, nil
}

func (rs *RuleSet) checkCorrelation(rc Context) verdict {
	open := make(map[string]bool, len(rc.Positions))
	for _, p := range rc.Positions {
		if p.IsOpen() {
			open[strings.ToUpper(p.Symbol)] = true
		}
	}
	candidate := strings.ToUpper(rc.Symbol)

	v := pass()
	for _, g := range rs.cfg.Groups {
		if !g.contains(candidate) {
			continue
		}
		var others []string
		for _, s := range g.Symbols {
			if s != candidate && open[s] {
				others = append(others, s)
			}
		}
		if len(others) == 0 {
			continue
		}
		if g.MaxPositions == 0 {
			return block(fmt.Sprintf("exclusive_with=%s", strings.Join(others, ",")))
		}
		held := len(others)
		if !open[candidate] {
			held++
		}
		if held > g.MaxPositions {
			return block(fmt.Sprintf("group_open=%d limit=%d with=%s", held, g.MaxPositions, strings.Join(others, ",")))
		}
		if g.ReduceFactor.IsPositive() && (v.factor.IsZero() || g.ReduceFactor.LessThan(v.factor)) {
			v.factor = g.ReduceFactor
		}
	}
	return v
}
