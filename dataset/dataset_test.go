package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{in: "", want: nil},
		{in: "42", want: int64(42)},
		{in: "-7", want: int64(-7)},
		{in: "2.55", want: 2.55},
		{in: "1e3", want: 1000.0},
		{in: "NaN", want: "NaN"},
		{in: "Inf", want: "Inf"},
		{in: "C536379", want: "C536379"},
		{in: " 12", want: " 12"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Coerce(tt.in), "Coerce(%q)", tt.in)
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "536365", FormatValue(int64(536365)))
	assert.Equal(t, "2.55", FormatValue(2.55))
	assert.Equal(t, "3", FormatValue(3.0))
	assert.Equal(t, "abc", FormatValue("abc"))
	assert.Equal(t, "true", FormatValue(true))
}

func TestReadCoercesAndStripsBOM(t *testing.T) {
	input := "\ufeffid,name,price,stock\n" +
		"1,Shirt,19.99,\n" +
		"2,\"Jeans, blue\",49.5,3\n"

	records, summary, err := Read(strings.NewReader(input), "id")
	require.NoError(t, err)

	assert.Equal(t, Summary{Rows: 2}, summary)
	require.Len(t, records, 2)

	assert.Equal(t, Record{
		"id": int64(1), "name": "Shirt", "price": 19.99, "stock": nil,
	}, records[0])
	assert.Equal(t, "Jeans, blue", records[1]["name"])

	key, ok := records[1].Key("id")
	require.True(t, ok)
	assert.Equal(t, "2", key)
}

func TestReadSkipsMalformedRows(t *testing.T) {
	input := "seller_id,city\n" +
		"a1,sao paulo\n" +
		"a2,rio,extra\n" +
		"a3,campinas\n"

	records, summary, err := Read(strings.NewReader(input), "seller_id")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, records, 2)
}

func TestReadMissingKey(t *testing.T) {
	input := "Invoice,Qty\n536365,6\n,2\n"

	_, _, err := Read(strings.NewReader(input), "Invoice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestReadKeyNotInHeader(t *testing.T) {
	_, _, err := Read(strings.NewReader("a,b\n1,2\n"), "id")
	require.Error(t, err)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "styles.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,gender\n15970,Men\n"), 0o644))

	records, _, err := ReadFile(path, "id")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Men", records[0]["gender"])

	_, _, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"), "id")
	require.Error(t, err)
}

func TestCatalogue(t *testing.T) {
	assert.Equal(t,
		[]string{"orders", "transactions", "products", "sellers"}, Names(),
	)

	spec, ok := Lookup("products")
	require.True(t, ok)
	assert.Equal(t, "styles.csv", spec.File)
	assert.Equal(t, "id", spec.KeyField)

	assert.Equal(t, "seller", PrefixOf("sellers"))
	assert.Equal(t, "carts", PrefixOf("carts"))

	specs := Catalogue()
	specs[0].Name = "mutated"
	assert.Equal(t, "orders", Catalogue()[0].Name)
}
