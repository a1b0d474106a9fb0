package jsondump

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiinsight/pkg/contract"
)

func payload() *contract.Payload {
	return &contract.Payload{
		Keys: []string{"a", "b", "c"},
		Records: []contract.Record{
			{"a": json.RawMessage(`"1"`), "b": json.RawMessage(`2`), "c": json.RawMessage(`{"x": true}`)},
			{"a": json.RawMessage(`"3"`)},
		},
	}
}

func TestExportSubsetInCallerOrder(t *testing.T) {
	empty := ""
	b, err := New(&Options{Indent: &empty}).Export(context.Background(), contract.ExportInput{Payload: payload(), Columns: []string{"c", "a"}})
	require.NoError(t, err)
	assert.Equal(t, `[{"c":{"x":true},"a":"1"},{"c":null,"a":"3"}]`+"\n", string(b))
}

func TestExportIndentedAllColumns(t *testing.T) {
	b, err := New(nil).Export(context.Background(), contract.ExportInput{Payload: payload()})
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got, 2)
	assert.Equal(t, float64(2), got[0]["b"])
	assert.Nil(t, got[1]["b"])
	assert.Contains(t, string(b), "\n  {")
}

func TestExportNeedsPayload(t *testing.T) {
	e := New(nil)
	_, err := e.Export(context.Background(), contract.ExportInput{})
	assert.ErrorIs(t, err, contract.ErrNoStructuredData)
	assert.True(t, e.NeedsPayload())
	assert.Equal(t, "ai_response.json", contract.FileName(e))
}
