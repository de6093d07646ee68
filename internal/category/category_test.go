package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		input string
		want  Category
	}{
		{"boulangerie", Bakery},
		{"Boulangerie", Bakery},
		{"  Pâtisserie ", Bakery},
		{"coiffeur", Hairdresser},
		{"avocat", Lawyer},
		{"Électricien", Electrician},
		{"restaurant", Restaurant},
		{"real-estate-agency", RealEstateAgency},
		{"Agence Immobilière", RealEstateAgency},
		{"beauty_salon", BeautySalon},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Resolve(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_Unknown(t *testing.T) {
	_, ok := Resolve("quantum blacksmith")
	assert.False(t, ok)

	_, ok = Resolve("")
	assert.False(t, ok)
}

func TestCatalogueIsComplete(t *testing.T) {
	all := All()
	assert.Len(t, all, 20)

	for _, c := range all {
		assert.True(t, c.Valid(), c)
		assert.NotEmpty(t, ProviderTypes(c), c)
		assert.NotEmpty(t, OSMTags(c), c)
	}
}

func TestProviderTypesReturnsCopy(t *testing.T) {
	types := ProviderTypes(Bakery)
	types[0] = "mutated"
	assert.Equal(t, "bakery", ProviderTypes(Bakery)[0])
}

func TestFold(t *testing.T) {
	assert.Equal(t, "salon de the", Fold("Salon  de   Thé"))
	assert.Equal(t, "car repair", Fold("CAR_REPAIR"))
}
