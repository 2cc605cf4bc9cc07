package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesync/internal/coerce"
	"tablesync/internal/ident"
	"tablesync/internal/source"
)

func discovered() []source.Table {
	return []source.Table{
		{
			ID:   "tblCust",
			Name: "Customers",
			Fields: []source.Field{
				{ID: "fld1", Name: "Name", Type: "singleLineText"},
				{ID: "fld2", Name: "Ghi chú", Type: "multilineText"},
				{ID: "fld3", Name: "Fat %", Type: "percent"},
				{ID: "fld4", Name: "Orders", Type: "multipleRecordLinks", LinkedTableID: "tblOrd"},
			},
		},
		{
			ID:   "tblOrd",
			Name: "Orders",
			Fields: []source.Field{
				{ID: "fld5", Name: "Quantity", Type: "number"},
				{ID: "fld6", Name: "Delivered", Type: "date"},
			},
		},
	}
}

func TestBuildMapping(t *testing.T) {
	maps, err := Build(discovered(), nil)
	require.NoError(t, err)
	require.Len(t, maps, 2)

	cust := maps[0]
	assert.Equal(t, "customers", cust.Name)
	assert.Equal(t, "tblCust", cust.SourceTableID)

	ghiChu := cust.Field("Ghi chú")
	require.NotNil(t, ghiChu)
	assert.Equal(t, "ghi_chu", ghiChu.CanonicalName)
	assert.Equal(t, coerce.Text, ghiChu.Class.Kind)

	fat := cust.Field("Fat %")
	require.NotNil(t, fat)
	assert.Equal(t, "fat_pct", fat.CanonicalName)
	assert.Equal(t, coerce.Percent, fat.Class.Kind)

	links := cust.LinkFields()
	require.Len(t, links, 1)
	assert.Equal(t, "tblOrd", links[0].LinkedTableID)
	assert.Equal(t, "customers__orders_links", cust.JunctionTable(links[0]))
}

func TestBuildDeterministicAcrossInvocations(t *testing.T) {
	a, err := Build(discovered(), nil)
	require.NoError(t, err)
	b, err := Build(discovered(), nil)
	require.NoError(t, err)

	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Fields, b[i].Fields)
	}
}

func TestBuildAppliesOverrides(t *testing.T) {
	ovr := []ident.Override{
		{Table: "customers", SourceName: "Ghi chú", CanonicalName: "notes"},
	}
	maps, err := Build(discovered(), ovr)
	require.NoError(t, err)
	assert.Equal(t, "notes", maps[0].Field("Ghi chú").CanonicalName)
}

func TestBuildRejectsStaleOverrides(t *testing.T) {
	ovr := []ident.Override{
		{Table: "customers", SourceName: "No Such Field", CanonicalName: "x"},
		{Table: "phantom", SourceName: "Name", CanonicalName: "y"},
	}
	_, err := Build(discovered(), ovr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No Such Field")
	assert.Contains(t, err.Error(), "phantom")
}

func TestMarkRequired(t *testing.T) {
	maps, err := Build(discovered(), nil)
	require.NoError(t, err)

	maps[0].MarkRequired([]string{"Name"})
	assert.True(t, maps[0].Field("Name").Class.Required)
	assert.False(t, maps[0].Field("Ghi chú").Class.Required)
}

func TestStagesReferentBeforeDependent(t *testing.T) {
	maps, err := Build(discovered(), nil)
	require.NoError(t, err)

	stages := Stages(maps)
	require.Len(t, stages, 2)
	assert.Equal(t, "orders", stages[0][0].Name)
	assert.Equal(t, "customers", stages[1][0].Name)
}

func TestStagesCycleCollapsesToOneStage(t *testing.T) {
	tables := []source.Table{
		{ID: "tblA", Name: "A", Fields: []source.Field{
			{Name: "to b", Type: "multipleRecordLinks", LinkedTableID: "tblB"},
		}},
		{ID: "tblB", Name: "B", Fields: []source.Field{
			{Name: "to a", Type: "multipleRecordLinks", LinkedTableID: "tblA"},
		}},
	}
	maps, err := Build(tables, nil)
	require.NoError(t, err)

	stages := Stages(maps)
	require.Len(t, stages, 1)
	assert.Len(t, stages[0], 2)
}

func TestStagesSelfLinkIsSingleStage(t *testing.T) {
	tables := []source.Table{
		{ID: "tblA", Name: "A", Fields: []source.Field{
			{Name: "parent", Type: "multipleRecordLinks", LinkedTableID: "tblA"},
		}},
	}
	maps, err := Build(tables, nil)
	require.NoError(t, err)
	require.Len(t, Stages(maps), 1)
}
