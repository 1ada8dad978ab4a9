package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-eushop/internal/catalog"
)

func shoeVocabulary() *catalog.Vocabulary {
	return catalog.NewVocabulary(newShoeStore().groups[1])
}

func TestVocabularyNaturalOrder(t *testing.T) {
	vocab := shoeVocabulary()
	groups := vocab.Groups()
	require.Len(t, groups, 4)
	require.Equal(t, "size", groups[1].Key)
	require.Equal(t, "size-2", groups[1].Values[0].Slug)
	require.Equal(t, "size-10", groups[1].Values[1].Slug)
	require.Equal(t, []string{"blue", "green", "red"}, []string{groups[0].Values[0].Slug, groups[0].Values[1].Slug, groups[0].Values[2].Slug})
	require.True(t, vocab.HasPrice())
}

func TestVocabularyMergesSharedSlugs(t *testing.T) {
	vocab := catalog.NewVocabulary([]catalog.Group{
		{Key: "color", Kind: catalog.FacetDiscrete, ParameterID: 1, Values: []catalog.Value{
			{Slug: "red", IDs: []int64{1}},
			{Slug: "red", IDs: []int64{2}},
		}},
		{Key: "finish", Kind: catalog.FacetDiscrete, ParameterID: 2, Values: []catalog.Value{
			{Slug: "red", IDs: []int64{3}},
		}},
	})
	owner, ok := vocab.Owner("red")
	require.True(t, ok)
	require.Equal(t, "color", owner)
	v, _ := vocab.Value("red")
	require.Equal(t, []int64{1, 2, 3}, v.IDs)
	require.Empty(t, vocab.Groups()[1].Values)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	vocab := shoeVocabulary()
	states := []catalog.State{
		{Values: map[string][]string{"color": {"blue", "red"}}, Page: 1},
		{Values: map[string][]string{"size": {"size-2", "size-10"}, "brand": {"zeta"}}, Sort: "name", Page: 3},
		{Values: map[string][]string{"color": {"green"}}, Price: &catalog.PriceRange{Min: dec("10.5"), Max: dec("99")}, Page: 1},
		{Values: map[string][]string{}, Price: &catalog.PriceRange{Min: dec("0"), Max: dec("5")}, Sort: "price-desc", Page: 2},
	}
	for _, s := range states {
		path := s.Encode(vocab)
		got, err := catalog.Decode(path, vocab)
		require.NoError(t, err, path)
		require.True(t, s.Equal(got), "round trip of %q", path)
		require.Equal(t, path, got.Encode(vocab))
	}
}

func TestEncodeIgnoresInputOrder(t *testing.T) {
	vocab := shoeVocabulary()
	a := catalog.State{Values: map[string][]string{"size": {"size-10", "size-2"}, "color": {"red", "blue"}}}
	b := catalog.State{Values: map[string][]string{"color": {"blue", "red"}, "size": {"size-2", "size-10"}}}
	require.Equal(t, a.Encode(vocab), b.Encode(vocab))
	require.Equal(t, "blue/red/size-2/size-10/", a.Encode(vocab))

	fromPath, err := catalog.Decode("size-10/red/size-2/blue/", vocab)
	require.NoError(t, err)
	require.Equal(t, "blue/red/size-2/size-10/", fromPath.Encode(vocab))
}

func TestDecodeDropsMalformedInput(t *testing.T) {
	vocab := shoeVocabulary()
	s, err := catalog.Decode("purple/red/price-range-abc/price-range-9:3/red/", vocab)
	require.NoError(t, err)
	require.Equal(t, []string{"red"}, s.Values["color"])
	require.Nil(t, s.Price)
	require.Equal(t, "red/", s.Encode(vocab))

	noPrice := catalog.NewVocabulary(newShoeStore().groups[1][:3])
	s, err = catalog.Decode("price-range-1:5/", noPrice)
	require.NoError(t, err)
	require.True(t, s.Empty())
}

func TestDecodeRejectsBadPage(t *testing.T) {
	vocab := shoeVocabulary()
	for _, path := range []string{"page-abc/", "page-0/", "red/page--1/", "page-1.5/"} {
		_, err := catalog.Decode(path, vocab)
		require.ErrorIs(t, err, catalog.ErrNotFound, path)
	}
}

func TestStateLinks(t *testing.T) {
	vocab := shoeVocabulary()
	s, err := catalog.Decode("red/price-range-10:20/sort-name/page-2/", vocab)
	require.NoError(t, err)

	require.Equal(t, "blue/red/price-range-10:20/sort-name/", s.Toggle("color", "blue").Encode(vocab))
	require.Equal(t, "price-range-10:20/sort-name/", s.Toggle("color", "red").Encode(vocab))
	require.Equal(t, "red/sort-name/", s.WithoutPrice().Encode(vocab))
	require.Equal(t, "red/price-range-10:20/", s.WithSort("").Encode(vocab))
}

func TestSortOrderByAlwaysEndsOnID(t *testing.T) {
	for _, opt := range catalog.DefaultSorts {
		fields := opt.OrderBy()
		require.Equal(t, catalog.ColumnID, fields[len(fields)-1].Column, opt.Code)
		if opt.ByPrice {
			require.Equal(t, catalog.ColumnEffectivePrice, fields[0].Column)
		}
	}
	desc := catalog.Sorts(catalog.DefaultSorts)
	opt, ok := desc.Lookup("price-desc")
	require.True(t, ok)
	require.True(t, opt.OrderBy()[0].Desc)
	_, ok = desc.Lookup("bogus")
	require.False(t, ok)
	require.True(t, desc.IsDefault("default"))
	require.True(t, desc.IsDefault(""))
}
