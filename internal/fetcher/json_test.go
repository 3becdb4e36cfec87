package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRow struct {
	PrecinctID string         `json:"Precinct_ID"`
	ACS        map[string]any `json:"ACS_2022"`
}

func collectJSON[T any](t *testing.T, ch <-chan T, errCh <-chan error) ([]T, error) {
	t.Helper()
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	for err := range errCh {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"Precinct_ID":"1001","ACS_2022":{"x":1.5}},{"Precinct_ID":"1002"}]`
	ch, errCh := DecodeJSONArray[testRow](context.Background(), strings.NewReader(input))
	rows, err := collectJSON(t, ch, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1001", rows[0].PrecinctID)
	assert.Equal(t, 1.5, rows[0].ACS["x"])
	assert.Nil(t, rows[1].ACS)
}

func TestDecodeJSONArray_EmptyInputs(t *testing.T) {
	for _, input := range []string{"", "[]"} {
		ch, errCh := DecodeJSONArray[testRow](context.Background(), strings.NewReader(input))
		rows, err := collectJSON(t, ch, errCh)
		require.NoError(t, err)
		assert.Empty(t, rows)
	}
}

func TestDecodeJSONArray_NotAnArray(t *testing.T) {
	ch, errCh := DecodeJSONArray[testRow](context.Background(), strings.NewReader(`{"a":1}`))
	_, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_BadElement(t *testing.T) {
	ch, errCh := DecodeJSONArray[testRow](context.Background(), strings.NewReader(`[{"Precinct_ID":1}]`))
	_, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode element")
}

func TestDecodeJSONObject(t *testing.T) {
	obj, err := DecodeJSONObject[map[string]string](strings.NewReader(`{"FIPS":"060376509011"}`))
	require.NoError(t, err)
	assert.Equal(t, "060376509011", (*obj)["FIPS"])

	_, err = DecodeJSONObject[map[string]string](strings.NewReader(`nope`))
	assert.ErrorContains(t, err, "json: decode object")
}
