package matcher

import (
	"bytes"
	"log/slog"
	"testing"

	"dealbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(amount float64) models.Money {
	return models.Money{Amount: amount, Currency: models.CurrencyUSD}
}

func knownShipping(amount float64) *models.Shipping {
	return &models.Shipping{Amount: amount, Known: true}
}

func TestTitlePasses(t *testing.T) {
	tests := []struct {
		name  string
		rule  models.ProductRule
		title string
		want  bool
	}{
		{
			name:  "no include terms passes by default",
			rule:  models.ProductRule{ID: "jx8p"},
			title: "Vintage Roland JX-8P",
			want:  true,
		},
		{
			name:  "literal include is case insensitive",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{"JX-8P"}},
			title: "roland jx-8p polysynth",
			want:  true,
		},
		{
			name:  "include terms are OR'ed",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{"juno", "jx-8p"}},
			title: "Roland JX-8P",
			want:  true,
		},
		{
			name:  "no include term matches",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{"juno"}},
			title: "Roland JX-8P",
			want:  false,
		},
		{
			name:  "whitespace is collapsed before matching",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{"roland jx"}},
			title: "Roland    JX-8P",
			want:  true,
		},
		{
			name:  "regex include",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{`/jx-?8p/`}},
			title: "Roland JX8P synthesizer",
			want:  true,
		},
		{
			name:  "regex is case insensitive by default",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{`/JX-8P/`}},
			title: "roland jx-8p",
			want:  true,
		},
		{
			name:  "c flag makes regex case sensitive",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{`/JX-8P/c`}},
			title: "roland jx-8p",
			want:  false,
		},
		{
			name:  "rule exclude term",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{"jx-8p"}, Exclude: []string{"pg-800"}},
			title: "Roland JX-8P with PG-800",
			want:  false,
		},
		{
			name:  "built-in exclude applies without configuration",
			rule:  models.ProductRule{ID: "jx8p", Include: []string{"jx-8p"}},
			title: "Roland JX-8P for parts",
			want:  false,
		},
		{
			name:  "accessory word without brand is rejected",
			rule:  models.ProductRule{ID: "sh101", Include: []string{"sh-101"}},
			title: "SH-101 dust cover",
			want:  false,
		},
		{
			name:  "accessory word with brand passes",
			rule:  models.ProductRule{ID: "sh101", Include: []string{"sh-101"}},
			title: "Roland SH-101 with hard case",
			want:  true,
		},
		{
			name:  "accessory word must be a whole word",
			rule:  models.ProductRule{ID: "sh101", Include: []string{"sh-101"}},
			title: "SH-101 showcase condition",
			want:  true,
		},
		{
			name: "accessory guard can be disabled per rule",
			rule: models.ProductRule{
				ID:             "sh101",
				Include:        []string{"sh-101"},
				AccessoryGuard: &models.AccessoryGuard{Disabled: true},
			},
			title: "SH-101 decksaver",
			want:  true,
		},
		{
			name: "accessory guard can name another brand",
			rule: models.ProductRule{
				ID:             "op1",
				Include:        []string{"op-1"},
				AccessoryGuard: &models.AccessoryGuard{Words: []string{"case"}, Brand: "teenage engineering"},
			},
			title: "Teenage Engineering OP-1 with case",
			want:  true,
		},
		{
			name: "brand-only guard keeps the default accessory words",
			rule: models.ProductRule{
				ID:             "minilogue",
				Include:        []string{"minilogue"},
				AccessoryGuard: &models.AccessoryGuard{Brand: "korg"},
			},
			title: "Minilogue dust cover",
			want:  false,
		},
		{
			name: "brand-only guard lets its brand through",
			rule: models.ProductRule{
				ID:             "minilogue",
				Include:        []string{"minilogue"},
				AccessoryGuard: &models.AccessoryGuard{Brand: "korg"},
			},
			title: "Korg Minilogue with dust cover",
			want:  true,
		},
		{
			name: "blank guard words are ignored",
			rule: models.ProductRule{
				ID:             "minilogue",
				Include:        []string{"minilogue"},
				AccessoryGuard: &models.AccessoryGuard{Words: []string{"case", " ", ""}, Brand: "korg"},
			},
			title: "Minilogue XD synth",
			want:  true,
		},
		{
			name: "non-blank guard words still apply",
			rule: models.ProductRule{
				ID:             "minilogue",
				Include:        []string{"minilogue"},
				AccessoryGuard: &models.AccessoryGuard{Words: []string{"case", " "}, Brand: "korg"},
			},
			title: "Minilogue hard case",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitlePasses(tt.rule, tt.title))
		})
	}
}

func TestTitlePasses_NoIncludeDependsOnlyOnExcludesAndGuard(t *testing.T) {
	rule := models.ProductRule{ID: "any", Exclude: []string{"juno"}}

	titles := map[string]bool{
		"Roland JX-8P":         true,
		"Korg Polysix":         true,
		"Roland Juno-106":      false,
		"Polysix for parts":    false,
		"Polysix dust cover":   false,
		"Roland dust cover":    true,
		"Anything else at all": true,
	}

	compiled := Compile(rule, nil)
	for title, want := range titles {
		assert.Equal(t, want, compiled.TitlePasses(title), title)
	}
}

func TestInvalidRegexFailsClosed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rule := Compile(models.ProductRule{
		ID:      "jx8p",
		Include: []string{`/jx-8p(/`, "jx-8p"},
		Exclude: []string{`/[unclosed/`},
	}, logger)

	assert.True(t, rule.TitlePasses("Roland JX-8P"), "valid include still matches and broken exclude never matches")
	assert.False(t, Compile(models.ProductRule{ID: "x", Include: []string{`/(/`}}, logger).TitlePasses("("))
	assert.Contains(t, buf.String(), "invalid regex term")
	assert.Contains(t, buf.String(), "rule=jx8p")
}

func TestEmptyRegexNeverMatches(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rule := Compile(models.ProductRule{ID: "jx8p", Exclude: []string{"//"}}, logger)
	assert.True(t, rule.TitlePasses("Roland JX-8P"))
	assert.False(t, Compile(models.ProductRule{ID: "x", Include: []string{"//"}}, logger).TitlePasses("anything"))
	assert.Contains(t, buf.String(), "empty regex term")
}

func TestSplitRegex(t *testing.T) {
	tests := []struct {
		raw         string
		wantPattern string
		wantFlags   string
		wantRegex   bool
	}{
		{raw: "/abc/", wantPattern: "abc", wantRegex: true},
		{raw: "/a/b/i", wantPattern: "a/b", wantFlags: "i", wantRegex: true},
		{raw: "/abc/s", wantPattern: "abc", wantFlags: "s", wantRegex: true},
		{raw: "abc", wantRegex: false},
		{raw: "/abc", wantRegex: false},
		{raw: "/abc/xyz", wantRegex: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			pattern, flags, ok := splitRegex(tt.raw)
			assert.Equal(t, tt.wantRegex, ok)
			if ok {
				assert.Equal(t, tt.wantPattern, pattern)
				assert.Equal(t, tt.wantFlags, flags)
			}
		})
	}
}

func TestEffectivePrice(t *testing.T) {
	tests := []struct {
		name            string
		listing         models.Listing
		includeShipping bool
		wantAmount      float64
		wantCaveat      string
		wantOK          bool
	}{
		{
			name:            "shipping excluded by policy",
			listing:         models.Listing{Price: usd(400), Shipping: knownShipping(20)},
			includeShipping: false,
			wantAmount:      400,
			wantOK:          true,
		},
		{
			name:            "known shipping is added",
			listing:         models.Listing{Price: usd(400), Shipping: knownShipping(20)},
			includeShipping: true,
			wantAmount:      420,
			wantOK:          true,
		},
		{
			name:            "known free shipping",
			listing:         models.Listing{Price: usd(400), Shipping: knownShipping(0)},
			includeShipping: true,
			wantAmount:      400,
			wantOK:          true,
		},
		{
			name:            "unknown shipping carries caveat",
			listing:         models.Listing{Price: usd(400), Shipping: &models.Shipping{Amount: 35, Known: false}},
			includeShipping: true,
			wantAmount:      400,
			wantCaveat:      ShippingUnknownCaveat,
			wantOK:          true,
		},
		{
			name:            "absent shipping carries caveat",
			listing:         models.Listing{Price: usd(400)},
			includeShipping: true,
			wantAmount:      400,
			wantCaveat:      ShippingUnknownCaveat,
			wantOK:          true,
		},
		{
			name:            "non USD is dropped",
			listing:         models.Listing{Price: models.Money{Amount: 400, Currency: "EUR"}},
			includeShipping: true,
			wantOK:          false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, caveat, ok := EffectivePrice(tt.listing, tt.includeShipping)
			require.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.wantAmount, amount, 0.001)
			assert.Equal(t, tt.wantCaveat, caveat)
		})
	}
}

func TestEffectivePrice_UnknownShippingAlwaysWarns(t *testing.T) {
	for _, price := range []float64{0, 1, 99.99, 5000} {
		listing := models.Listing{Price: usd(price), Shipping: &models.Shipping{Amount: 12, Known: false}}
		amount, caveat, ok := EffectivePrice(listing, true)
		require.True(t, ok)
		assert.Equal(t, price, amount)
		assert.Contains(t, caveat, "unknown")
	}
}

func TestFilterMatches(t *testing.T) {
	rule := models.ProductRule{ID: "synth", Name: "Synth", Include: []string{"synth"}, MaxPrice: 500}

	t.Run("shipping pushes effective price", func(t *testing.T) {
		listings := []models.Listing{{
			Marketplace: "reverb",
			ID:          "1",
			Title:       "Roland Synth-8",
			Price:       usd(400),
			Shipping:    knownShipping(20),
		}}

		matches := FilterMatches(rule, listings, true)
		require.Len(t, matches, 1)
		assert.InDelta(t, 420, matches[0].EffectivePrice, 0.001)
		assert.Equal(t, "synth", matches[0].ProductID)
		assert.Empty(t, matches[0].ShippingCaveat)
	})

	t.Run("shipping pushes over the maximum", func(t *testing.T) {
		listings := []models.Listing{{
			Marketplace: "reverb",
			ID:          "1",
			Title:       "Roland Synth-8",
			Price:       usd(500),
			Shipping:    knownShipping(20),
		}}

		assert.Empty(t, FilterMatches(rule, listings, true))
	})

	t.Run("minimum price filters accessories", func(t *testing.T) {
		minPrice := 100.0
		withMin := rule
		withMin.MinPrice = &minPrice

		listings := []models.Listing{
			{ID: "cheap", Title: "synth power cable", Price: usd(15)},
			{ID: "real", Title: "synth module", Price: usd(300)},
		}

		matches := FilterMatches(withMin, listings, false)
		require.Len(t, matches, 1)
		assert.Equal(t, "real", matches[0].Listing.ID)
	})

	t.Run("sorted best deal first", func(t *testing.T) {
		listings := []models.Listing{
			{ID: "a", Title: "synth a", Price: usd(450)},
			{ID: "b", Title: "synth b", Price: usd(200)},
			{ID: "c", Title: "synth c", Price: usd(320)},
			{ID: "d", Title: "synth d", Price: models.Money{Amount: 10, Currency: "GBP"}},
			{ID: "e", Title: "drum machine", Price: usd(100)},
		}

		matches := FilterMatches(rule, listings, false)
		require.Len(t, matches, 3)
		assert.Equal(t, "b", matches[0].Listing.ID)
		assert.Equal(t, "c", matches[1].Listing.ID)
		assert.Equal(t, "a", matches[2].Listing.ID)
	})

	t.Run("unknown shipping kept with caveat", func(t *testing.T) {
		listings := []models.Listing{{ID: "1", Title: "synth", Price: usd(480)}}

		matches := FilterMatches(rule, listings, true)
		require.Len(t, matches, 1)
		assert.Equal(t, ShippingUnknownCaveat, matches[0].ShippingCaveat)
	})
}
