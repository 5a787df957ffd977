package reader

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

func openBytes(data []byte) OpenFunc {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func collect(t *testing.T, r Reader) []Batch {
	t.Helper()
	var batches []Batch
	err := r.Read(context.Background(), func(b Batch) error {
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)
	return batches
}

func csvSource() *sources.Source {
	return &sources.Source{
		FilePattern: "sales_*.csv",
		Format:      sources.FormatCSV,
		TableName:   "transactions",
		Grain:       []string{"id"},
		Schema: schema.Schema{
			{Name: "id", Type: schema.TypeString},
			{Name: "amount", Type: schema.TypeDecimal},
		},
	}
}

func TestCSVReadBatches(t *testing.T) {
	data := []byte("id,amount\n1,10.00\n2,20.00\n3,30.00\n")
	r, err := New(csvSource(), openBytes(data), "sales_x.csv", 2)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, "1", batches[0][0]["id"])
	assert.Equal(t, "30.00", batches[1][0]["amount"])
	assert.EqualValues(t, 3, r.RowsRead())
	assert.Equal(t, 2, r.StartingRowNumber())
}

func TestCSVHeaderOnlyIsEmptyNotError(t *testing.T) {
	r, err := New(csvSource(), openBytes([]byte("id,amount\n")), "sales_x.csv", 10)
	require.NoError(t, err)

	batches := collect(t, r)
	assert.Empty(t, batches)
	assert.EqualValues(t, 0, r.RowsRead())
}

func TestCSVMissingHeader(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty file", data: ""},
		{name: "blank header", data: " , \n1,2\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := New(csvSource(), openBytes([]byte(tc.data)), "sales_x.csv", 10)
			require.NoError(t, err)
			err = r.Read(context.Background(), func(Batch) error { return nil })
			var fe *fileerr.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, fileerr.KindMissingHeader, fe.Kind)
		})
	}
}

func TestCSVMissingColumns(t *testing.T) {
	r, err := New(csvSource(), openBytes([]byte("id,extra\n1,x\n")), "sales_x.csv", 10)
	require.NoError(t, err)
	err = r.Read(context.Background(), func(Batch) error { return nil })
	var fe *fileerr.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fileerr.KindMissingColumns, fe.Kind)
	assert.Equal(t, "amount", fe.Values["missing_fields"])
	assert.Equal(t, "amount, id", fe.Values["required_fields"])
}

func TestCSVSkipRows(t *testing.T) {
	src := csvSource()
	src.SkipRows = 2
	data := []byte("id,amount\nskip1,0\nskip2,0\n1,10.00\n")
	r, err := New(src, openBytes(data), "sales_x.csv", 10)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "1", batches[0][0]["id"])
	assert.Equal(t, 4, r.StartingRowNumber())
}

func TestCSVGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("id,amount\n1,10.00\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	r, err := New(csvSource(), openBytes(buf.Bytes()), "sales_x.csv.gz", 10)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 1)
	assert.Equal(t, "1", batches[0][0]["id"])
}

func TestCSVHeaderCaseInsensitive(t *testing.T) {
	r, err := New(csvSource(), openBytes([]byte("ID,Amount\n1,10.00\n")), "sales_x.csv", 10)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 1)
	// Keys stay as the file spelled them; the validator renames.
	assert.Equal(t, "1", batches[0][0]["ID"])
}

func TestCSVEmitErrorStopsRead(t *testing.T) {
	data := []byte("id,amount\n1,1\n2,2\n3,3\n")
	r, err := New(csvSource(), openBytes(data), "sales_x.csv", 1)
	require.NoError(t, err)

	calls := 0
	err = r.Read(context.Background(), func(Batch) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestJSONReadWithArrayPath(t *testing.T) {
	src := &sources.Source{
		FilePattern: "orders_*.json",
		Format:      sources.FormatJSON,
		TableName:   "web_orders",
		Grain:       []string{"order_id"},
		ArrayPath:   "data.orders",
		Schema: schema.Schema{
			{Name: "order_id", Type: schema.TypeString},
			{Name: "customer_email", Type: schema.TypeEmail},
		},
	}
	data := []byte(`{"data": {"orders": [
		{"order_id": "o1", "customer": {"email": "a@b.com"}},
		{"order_id": "o2", "customer": {"email": "c@d.com"}}
	]}}`)
	// Nested customer.email flattens to customer_email.
	r, err := New(src, openBytes(data), "orders_x.json", 10)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "o1", batches[0][0]["order_id"])
	assert.Equal(t, "a@b.com", batches[0][0]["customer_email"])
	assert.Equal(t, 1, r.StartingRowNumber())
}

func TestJSONEmptyArrayIsNoData(t *testing.T) {
	src := &sources.Source{
		FilePattern: "orders_*.json",
		Format:      sources.FormatJSON,
		TableName:   "web_orders",
		Grain:       []string{"order_id"},
		Schema: schema.Schema{
			{Name: "order_id", Type: schema.TypeString},
		},
	}
	r, err := New(src, openBytes([]byte(`[]`)), "orders_x.json", 10)
	require.NoError(t, err)
	err = r.Read(context.Background(), func(Batch) error { return nil })
	var fe *fileerr.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fileerr.KindNoDataInFile, fe.Kind)
}

func TestJSONRootArrayBatches(t *testing.T) {
	src := &sources.Source{
		FilePattern: "orders_*.json",
		Format:      sources.FormatJSON,
		TableName:   "web_orders",
		Grain:       []string{"order_id"},
		Schema: schema.Schema{
			{Name: "order_id", Type: schema.TypeInt},
			{Name: "total", Type: schema.TypeDecimal},
		},
	}
	data := []byte(`[
		{"order_id": 1, "total": 10.5},
		{"order_id": 2, "total": 20.0},
		{"order_id": 3, "total": 30.25},
		{"order_id": 4, "total": 40.0},
		{"order_id": 5, "total": 50.75}
	]`)
	r, err := New(src, openBytes(data), "orders_x.json", 2)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, int64(1), batches[0][0]["order_id"])
	assert.Equal(t, 10.5, batches[0][0]["total"])
	assert.Equal(t, int64(5), r.RowsRead())
}

func TestJSONSkipsSiblingSections(t *testing.T) {
	src := &sources.Source{
		FilePattern: "orders_*.json",
		Format:      sources.FormatJSON,
		TableName:   "web_orders",
		Grain:       []string{"order_id"},
		ArrayPath:   "data.orders",
		Schema: schema.Schema{
			{Name: "order_id", Type: schema.TypeInt},
			{Name: "lines_0_sku", Type: schema.TypeString},
		},
	}
	// Sibling sections before and after the records array, including a
	// decoy orders array outside the path, must not produce rows.
	data := []byte(`{
		"meta": {"orders": [{"order_id": 999}], "generated": "2024-01-01"},
		"data": {
			"orders": [
				{"order_id": 1, "lines": [{"sku": "a1"}]},
				{"order_id": 2, "lines": [{"sku": "b2"}]}
			],
			"count": 2
		},
		"summary": {"total": 2}
	}`)
	r, err := New(src, openBytes(data), "orders_x.json", 10)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, int64(1), batches[0][0]["order_id"])
	assert.Equal(t, "a1", batches[0][0]["lines_0_sku"])
	assert.Equal(t, "b2", batches[0][1]["lines_0_sku"])
	assert.Equal(t, int64(2), r.RowsRead())
}

func TestJSONSingleObjectAtPathIsOneRecord(t *testing.T) {
	src := &sources.Source{
		FilePattern: "orders_*.json",
		Format:      sources.FormatJSON,
		TableName:   "web_orders",
		Grain:       []string{"order_id"},
		ArrayPath:   "data.order",
		Schema: schema.Schema{
			{Name: "order_id", Type: schema.TypeInt},
		},
	}
	data := []byte(`{"data": {"order": {"order_id": 7}}}`)
	r, err := New(src, openBytes(data), "orders_x.json", 10)
	require.NoError(t, err)

	batches := collect(t, r)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, int64(7), batches[0][0]["order_id"])
}

func TestFlatten(t *testing.T) {
	in := map[string]any{
		"ID": "1",
		"Nested": map[string]any{
			"Inner": "v",
		},
		"Items": []any{
			map[string]any{"sku": "a"},
			map[string]any{"sku": "b"},
		},
		"Tags": []any{"x", "y"},
	}
	got := flatten(in, "")
	assert.Equal(t, "1", got["id"])
	assert.Equal(t, "v", got["nested_inner"])
	assert.Equal(t, "a", got["items_0_sku"])
	assert.Equal(t, "b", got["items_1_sku"])
	assert.Equal(t, "[x, y]", got["tags"])
}
