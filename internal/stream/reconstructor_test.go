package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bnema/gemini-pool/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleArray = `[{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]},
{"candidates":[{"content":{"parts":[{"text":"lo {world}, \"quoted\" \\"}]}}]} ,
{"nested":{"a":{"b":[1,2,{"c":"}"}]}},"s":"[,]"}]`

func decodeAll(t *testing.T, objects []json.RawMessage) []any {
	t.Helper()

	out := make([]any, 0, len(objects))
	for _, object := range objects {
		var v any
		require.NoError(t, json.Unmarshal(object, &v))
		out = append(out, v)
	}
	return out
}

func expectedObjects(t *testing.T, array string) []any {
	t.Helper()

	var want []any
	require.NoError(t, json.Unmarshal([]byte(array), &want))
	return want
}

func TestReconstructorWholeArray(t *testing.T) {
	t.Parallel()

	r := NewReconstructor()
	got := decodeAll(t, r.Parse([]byte(sampleArray)))

	assert.Equal(t, expectedObjects(t, sampleArray), got)
}

func TestReconstructorEverySplitPoint(t *testing.T) {
	t.Parallel()

	want := expectedObjects(t, sampleArray)
	for split := 1; split < len(sampleArray); split++ {
		r := NewReconstructor()

		var objects []json.RawMessage
		objects = append(objects, r.Parse([]byte(sampleArray[:split]))...)
		objects = append(objects, r.Parse([]byte(sampleArray[split:]))...)

		require.Equal(t, want, decodeAll(t, objects), "split at %d", split)
	}
}

func TestReconstructorCharacterByCharacter(t *testing.T) {
	t.Parallel()

	r := NewReconstructor()
	var objects []json.RawMessage
	for i := 0; i < len(sampleArray); i++ {
		objects = append(objects, r.Parse([]byte{sampleArray[i]})...)
	}

	assert.Equal(t, expectedObjects(t, sampleArray), decodeAll(t, objects))
}

func TestReconstructorEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "whitespace only", input: " \n\t ", want: nil},
		{name: "empty array", input: "[]", want: nil},
		{name: "braces in string", input: `[{"message":"a {b} c"}]`, want: []string{`{"message":"a {b} c"}`}},
		{name: "commas in string", input: `[{"message":"a, b, c"},{"x":1}]`, want: []string{`{"message":"a, b, c"}`, `{"x":1}`}},
		{name: "escaped quote", input: `[{"q":"say \"}\" now"}]`, want: []string{`{"q":"say \"}\" now"}`}},
		{name: "escaped backslash before quote", input: `[{"p":"C:\\"},{"n":2}]`, want: []string{`{"p":"C:\\"}`, `{"n":2}`}},
		{name: "array open abutting data", input: `[{"a":1}`, want: []string{`{"a":1}`}},
		{name: "malformed object dropped", input: `[{"a":},{"b":2}]`, want: []string{`{"b":2}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewReconstructor()
			var got []string
			for _, object := range r.Parse([]byte(tt.input)) {
				got = append(got, string(object))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconstructorCountsObjects(t *testing.T) {
	malformed := observability.StreamObjectsTotal.WithLabelValues("malformed")
	parsed := observability.StreamObjectsTotal.WithLabelValues("parsed")
	malformedBefore := testutil.ToFloat64(malformed)
	parsedBefore := testutil.ToFloat64(parsed)

	got := NewReconstructor().Parse([]byte(`[{"ok":1},{"bad":},{"ok":2}]`))
	require.Len(t, got, 2)

	// Other tests run in parallel and only ever add to the counters.
	assert.GreaterOrEqual(t, testutil.ToFloat64(malformed), malformedBefore+1)
	assert.GreaterOrEqual(t, testutil.ToFloat64(parsed), parsedBefore+2)
}

func TestReconstructorKeepsPartialObject(t *testing.T) {
	t.Parallel()

	r := NewReconstructor()
	assert.Empty(t, r.Parse([]byte(`[{"text":"partial`)))
	assert.Equal(t, len(`{"text":"partial`), r.Buffered())

	objects := r.Parse([]byte(` done"}`))
	require.Len(t, objects, 1)
	assert.JSONEq(t, `{"text":"partial done"}`, string(objects[0]))

	assert.Empty(t, r.Parse([]byte("]")))
}

func TestReconstructorReset(t *testing.T) {
	t.Parallel()

	r := NewReconstructor()
	r.Parse([]byte(`[{"a":"{`))
	r.Reset()

	objects := r.Parse([]byte(`[{"b":1}]`))
	require.Len(t, objects, 1)
	assert.JSONEq(t, `{"b":1}`, string(objects[0]))
}

type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReconstructorEach(t *testing.T) {
	t.Parallel()

	r := NewReconstructor()
	var got []json.RawMessage
	err := r.Each(context.Background(), oneByteReader{strings.NewReader(sampleArray)}, func(object json.RawMessage) error {
		got = append(got, object)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, expectedObjects(t, sampleArray), decodeAll(t, got))
}

func TestReconstructorEachStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	calls := 0

	err := NewReconstructor().Each(context.Background(), strings.NewReader(sampleArray), func(json.RawMessage) error {
		calls++
		return stop
	})

	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReconstructorEachHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewReconstructor().Each(ctx, strings.NewReader(sampleArray), func(json.RawMessage) error {
		t.Fatal("no object expected after cancellation")
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
}
