package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapvault/internal/tree"
)

func sampleTree() *tree.Node {
	return &tree.Node{Name: "root", IsDirectory: true, Children: []*tree.Node{
		{Name: "a", Size: 1},
		{Name: "b", Size: 2},
		{Name: "d", IsDirectory: true, Children: []*tree.Node{{Name: "c", Size: 3}}},
	}}
}

func colorOf(r *Report, text string) (Color, bool) {
	for _, s := range r.Spans {
		if s.Color == SizeSuffix {
			continue
		}
		if string([]rune(r.Text)[s.Start:s.End]) == text {
			return s.Color, true
		}
	}
	return 0, false
}

func TestRender_Layout(t *testing.T) {
	r := Render(sampleTree())

	expected := "root\n" +
		"    ├── a (1.00 B)\n" +
		"    ├── b (2.00 B)\n" +
		"    └── d\n" +
		"        └── c (3.00 B)\n"
	assert.Equal(t, expected, r.Text)

	require.NotEmpty(t, r.Spans)
	assert.Equal(t, Span{Start: 0, End: 4, Color: Unchanged}, r.Spans[0])
	assert.Equal(t, Span{Start: 13, End: 14, Color: Unchanged}, r.Spans[1])
	assert.Equal(t, Span{Start: 14, End: 23, Color: SizeSuffix}, r.Spans[2])
	assert.False(t, r.HasChanges())
}

func TestRender_VerticalBarContinuation(t *testing.T) {
	root := &tree.Node{Name: "r", IsDirectory: true, Children: []*tree.Node{
		{Name: "d", IsDirectory: true, Children: []*tree.Node{
			{Name: "e", IsDirectory: true, Children: []*tree.Node{{Name: "f", Size: 0}}},
		}},
		{Name: "z", Size: 0},
	}}

	expected := "r\n" +
		"    ├── d\n" +
		"    │   └── e\n" +
		"    │       └── f (0.00 B)\n" +
		"    └── z (0.00 B)\n"
	assert.Equal(t, expected, Render(root).Text)
}

func TestCompare_NilOldEqualsRender(t *testing.T) {
	assert.Equal(t, Render(sampleTree()), Compare(nil, sampleTree()))
}

func TestCompare_AgainstItself(t *testing.T) {
	r := Compare(sampleTree(), sampleTree())

	assert.Equal(t, Render(sampleTree()).Text, r.Text)
	for _, s := range r.Spans {
		assert.NotEqual(t, New, s.Color)
		assert.NotEqual(t, Changed, s.Color)
	}
	assert.False(t, r.HasChanges())
}

func TestCompare_ChangedAndNew(t *testing.T) {
	newer := sampleTree()
	newer.Children[0].Size = 100
	newer.Children[2].Children = append(newer.Children[2].Children, &tree.Node{Name: "fresh", Size: 5})
	newer.Children = append(newer.Children, &tree.Node{Name: "sub", IsDirectory: true, Children: []*tree.Node{{Name: "inner", Size: 1}}})

	r := Compare(sampleTree(), newer)

	cases := map[string]Color{
		"root":  Unchanged,
		"a":     Changed,
		"b":     Unchanged,
		"d":     Unchanged,
		"c":     Unchanged,
		"fresh": New,
		"sub":   New,
		"inner": New,
	}
	for name, expected := range cases {
		got, ok := colorOf(r, name)
		require.True(t, ok, "no span for %s", name)
		assert.Equal(t, expected, got, "color of %s", name)
	}
	assert.True(t, r.HasChanges())
}

func TestCompare_DeletionsNotShown(t *testing.T) {
	newer := sampleTree()
	newer.Children = newer.Children[1:]

	r := Compare(sampleTree(), newer)

	_, ok := colorOf(r, "a")
	assert.False(t, ok)
	assert.False(t, r.HasChanges())
}

func TestCompare_TypeChangeNotFlagged(t *testing.T) {
	newer := sampleTree()
	newer.Children[1] = &tree.Node{Name: "b", IsDirectory: true}

	color, ok := colorOf(Compare(sampleTree(), newer), "b")
	require.True(t, ok)
	assert.Equal(t, Unchanged, color)
}

func TestCompare_DirectorySizeIgnored(t *testing.T) {
	older := sampleTree()
	older.Children[2].Size = 4096

	color, ok := colorOf(Compare(older, sampleTree()), "d")
	require.True(t, ok)
	assert.Equal(t, Unchanged, color)
}

func TestReport_UTF16Offsets(t *testing.T) {
	root := &tree.Node{Name: "r", IsDirectory: true, Children: []*tree.Node{{Name: "😀", Size: 0}}}

	r := Render(root)

	assert.Equal(t, "r\n    └── 😀 (0.00 B)\n", r.Text)
	assert.Equal(t, Span{Start: 10, End: 12, Color: Unchanged}, r.Spans[1])
	assert.Equal(t, Span{Start: 12, End: 21, Color: SizeSuffix}, r.Spans[2])
}

func TestReport_RoundTrip(t *testing.T) {
	newer := sampleTree()
	newer.Children[0].Size = 9
	original := Compare(sampleTree(), newer)

	data, err := original.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"color":"CHANGED"`)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestColor_UnmarshalUnknown(t *testing.T) {
	_, err := Unmarshal([]byte(`{"text":"x","spans":[{"start":0,"end":1,"color":"PURPLE"}]}`))
	assert.Error(t, err)
}
