// Package category maps free-text business categories onto a closed catalogue
// and from there onto the tags each data source understands.
package category

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Category is a canonical business category
type Category string

const (
	Restaurant       Category = "restaurant"
	Cafe             Category = "cafe"
	Bakery           Category = "bakery"
	Bar              Category = "bar"
	Hotel            Category = "hotel"
	Hairdresser      Category = "hairdresser"
	BeautySalon      Category = "beauty_salon"
	Plumber          Category = "plumber"
	Electrician      Category = "electrician"
	Lawyer           Category = "lawyer"
	Dentist          Category = "dentist"
	Doctor           Category = "doctor"
	Pharmacy         Category = "pharmacy"
	RealEstateAgency Category = "real_estate_agency"
	CarRepair        Category = "car_repair"
	Gym              Category = "gym"
	Florist          Category = "florist"
	Supermarket      Category = "supermarket"
	ClothingStore    Category = "clothing_store"
	Accounting       Category = "accounting"
)

// OSMTag is one key=value selector for the open geo-data service
type OSMTag struct {
	Key   string
	Value string
}

type entry struct {
	providerTypes []string
	osm           []OSMTag
	synonyms      []string
}

var catalogue = map[Category]entry{
	Restaurant: {
		providerTypes: []string{"restaurant"},
		osm:           []OSMTag{{"amenity", "restaurant"}, {"amenity", "fast_food"}},
		synonyms:      []string{"restaurants", "restaurant", "resto", "brasserie", "bistro", "pizzeria", "fast food", "restauration"},
	},
	Cafe: {
		providerTypes: []string{"cafe"},
		osm:           []OSMTag{{"amenity", "cafe"}},
		synonyms:      []string{"coffee", "coffee shop", "cafes", "salon de the"},
	},
	Bakery: {
		providerTypes: []string{"bakery"},
		osm:           []OSMTag{{"shop", "bakery"}, {"shop", "pastry"}},
		synonyms:      []string{"boulangerie", "boulangeries", "patisserie", "bakeries", "pastry"},
	},
	Bar: {
		providerTypes: []string{"bar", "night_club"},
		osm:           []OSMTag{{"amenity", "bar"}, {"amenity", "pub"}},
		synonyms:      []string{"pub", "bars", "cocktail bar", "bar a vin", "wine bar"},
	},
	Hotel: {
		providerTypes: []string{"lodging"},
		osm:           []OSMTag{{"tourism", "hotel"}, {"tourism", "guest_house"}},
		synonyms:      []string{"hotels", "hotel", "lodging", "auberge", "chambre d'hotes", "guest house"},
	},
	Hairdresser: {
		providerTypes: []string{"hair_care"},
		osm:           []OSMTag{{"shop", "hairdresser"}},
		synonyms:      []string{"coiffeur", "coiffeuse", "salon de coiffure", "barber", "barbier", "hair salon"},
	},
	BeautySalon: {
		providerTypes: []string{"beauty_salon"},
		osm:           []OSMTag{{"shop", "beauty"}},
		synonyms:      []string{"institut de beaute", "estheticienne", "beauty", "spa", "nail salon", "onglerie"},
	},
	Plumber: {
		providerTypes: []string{"plumber"},
		osm:           []OSMTag{{"craft", "plumber"}},
		synonyms:      []string{"plombier", "plomberie", "plumbing"},
	},
	Electrician: {
		providerTypes: []string{"electrician"},
		osm:           []OSMTag{{"craft", "electrician"}},
		synonyms:      []string{"electricien", "electricite"},
	},
	Lawyer: {
		providerTypes: []string{"lawyer"},
		osm:           []OSMTag{{"office", "lawyer"}},
		synonyms:      []string{"avocat", "avocats", "cabinet d'avocats", "attorney", "law firm", "notaire"},
	},
	Dentist: {
		providerTypes: []string{"dentist"},
		osm:           []OSMTag{{"amenity", "dentist"}, {"healthcare", "dentist"}},
		synonyms:      []string{"dentiste", "dental", "chirurgien dentiste"},
	},
	Doctor: {
		providerTypes: []string{"doctor"},
		osm:           []OSMTag{{"amenity", "doctors"}, {"healthcare", "doctor"}},
		synonyms:      []string{"medecin", "medecin generaliste", "doctors", "physician", "clinic", "cabinet medical"},
	},
	Pharmacy: {
		providerTypes: []string{"pharmacy", "drugstore"},
		osm:           []OSMTag{{"amenity", "pharmacy"}},
		synonyms:      []string{"pharmacie", "drugstore", "chemist"},
	},
	RealEstateAgency: {
		providerTypes: []string{"real_estate_agency"},
		osm:           []OSMTag{{"office", "estate_agent"}},
		synonyms:      []string{"agence immobiliere", "immobilier", "real estate", "estate agent", "realtor"},
	},
	CarRepair: {
		providerTypes: []string{"car_repair"},
		osm:           []OSMTag{{"shop", "car_repair"}},
		synonyms:      []string{"garage", "garagiste", "mecanicien", "auto repair", "mechanic"},
	},
	Gym: {
		providerTypes: []string{"gym"},
		osm:           []OSMTag{{"leisure", "fitness_centre"}},
		synonyms:      []string{"salle de sport", "fitness", "salle de musculation", "gyms"},
	},
	Florist: {
		providerTypes: []string{"florist"},
		osm:           []OSMTag{{"shop", "florist"}},
		synonyms:      []string{"fleuriste", "flower shop", "fleurs"},
	},
	Supermarket: {
		providerTypes: []string{"supermarket", "grocery_or_supermarket"},
		osm:           []OSMTag{{"shop", "supermarket"}, {"shop", "convenience"}},
		synonyms:      []string{"supermarche", "epicerie", "grocery", "grocery store", "superette"},
	},
	ClothingStore: {
		providerTypes: []string{"clothing_store"},
		osm:           []OSMTag{{"shop", "clothes"}},
		synonyms:      []string{"boutique de vetements", "vetements", "clothes", "fashion", "pret a porter"},
	},
	Accounting: {
		providerTypes: []string{"accounting"},
		osm:           []OSMTag{{"office", "accountant"}},
		synonyms:      []string{"comptable", "expert comptable", "cabinet comptable", "accountant"},
	},
}

// lookup maps every folded name and synonym to its category
var lookup = buildLookup()

func buildLookup() map[string]Category {
	m := make(map[string]Category)
	for cat, e := range catalogue {
		m[Fold(string(cat))] = cat
		m[Fold(strings.ReplaceAll(string(cat), "_", " "))] = cat
		for _, s := range e.synonyms {
			m[Fold(s)] = cat
		}
	}
	return m
}

// Fold lower-cases, strips accents and collapses whitespace
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return ' '
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// Resolve maps free text to a catalogue category
func Resolve(freeText string) (Category, bool) {
	cat, ok := lookup[Fold(freeText)]
	return cat, ok
}

// Valid reports whether c is in the catalogue
func (c Category) Valid() bool {
	_, ok := catalogue[c]
	return ok
}

// ProviderTypes returns the listings-provider type tags for c
func ProviderTypes(c Category) []string {
	return append([]string(nil), catalogue[c].providerTypes...)
}

// OSMTags returns the open geo-data selectors for c
func OSMTags(c Category) []OSMTag {
	return append([]OSMTag(nil), catalogue[c].osm...)
}

// All returns every category, sorted
func All() []Category {
	out := make([]Category, 0, len(catalogue))
	for c := range catalogue {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
