package comicinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("full sidecar", func(t *testing.T) {
		data := []byte(`<?xml version="1.0"?>
<ComicInfo>
	<Title>The Last Stand</Title>
	<Series>Saga</Series>
	<Number>7</Number>
	<Writer>Brian K. Vaughan</Writer>
	<Publisher>Image</Publisher>
	<PageCount>24</PageCount>
	<Pages>
		<Page Image="0" Type="FrontCover"/>
		<Page Image="1"/>
	</Pages>
</ComicInfo>`)

		ci, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, "The Last Stand", ci.Title)
		assert.Equal(t, "Saga", ci.Series)
		assert.Equal(t, "7", ci.Number)
		assert.Equal(t, "Brian K. Vaughan", ci.Writer)
		assert.Equal(t, "Image", ci.Publisher)
		assert.Len(t, ci.Pages.Page, 2)
		assert.Equal(t, "FrontCover", ci.Pages.Page[0].Type)
	})

	t.Run("minimal sidecar", func(t *testing.T) {
		ci, err := Parse([]byte(`<ComicInfo><Series>Berserk</Series></ComicInfo>`))
		require.NoError(t, err)
		assert.Equal(t, "Berserk", ci.Series)
		assert.Empty(t, ci.Number)
	})

	t.Run("malformed xml", func(t *testing.T) {
		_, err := Parse([]byte(`<ComicInfo><Series>Broken`))
		require.Error(t, err)
	})
}

func TestIsSidecar(t *testing.T) {
	assert.True(t, IsSidecar("ComicInfo.xml"))
	assert.True(t, IsSidecar("comicinfo.XML"))
	assert.True(t, IsSidecar("nested/dir/ComicInfo.xml"))
	assert.True(t, IsSidecar(`windows\style\COMICINFO.XML`))
	assert.False(t, IsSidecar("ComicInfo.xml.bak"))
	assert.False(t, IsSidecar("info.xml"))
}

func TestParsedNumber(t *testing.T) {
	tests := []struct {
		raw      string
		expected *float64
	}{
		{raw: "7", expected: f64(7)},
		{raw: "7.5", expected: f64(7.5)},
		{raw: "", expected: nil},
		{raw: "annual", expected: nil},
	}

	for _, tt := range tests {
		ci := &ComicInfo{Number: tt.raw}
		got := ci.ParsedNumber()
		if tt.expected == nil {
			assert.Nil(t, got, "number %q", tt.raw)
		} else {
			require.NotNil(t, got, "number %q", tt.raw)
			assert.Equal(t, *tt.expected, *got)
		}
	}
}

func TestParsedPageCount(t *testing.T) {
	ci := &ComicInfo{PageCount: "24"}
	got := ci.ParsedPageCount()
	require.NotNil(t, got)
	assert.Equal(t, 24, *got)

	assert.Nil(t, (&ComicInfo{}).ParsedPageCount())
	assert.Nil(t, (&ComicInfo{PageCount: "many"}).ParsedPageCount())
}

func f64(v float64) *float64 {
	return &v
}
