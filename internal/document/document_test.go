package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalJSON_PreservesOrderAndTypes(t *testing.T) {
	// Given: a JSON object mixing every supported shape
	input := `{"zeta":"z","id":"a1","age":30,"score":1.5,"ok":true,"tags":["x", "y"],"meta":{"k": 1},"gone":null}`

	// When: decoding
	var d Document
	require.NoError(t, json.Unmarshal([]byte(input), &d))

	// Then: keys keep their order and values their natural kinds
	var names []string
	for _, f := range d.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"zeta", "id", "age", "score", "ok", "tags", "meta"}, names)

	age, _ := d.Get("age")
	assert.Equal(t, KindInt, age.Kind())
	score, _ := d.Get("score")
	assert.Equal(t, KindFloat, score.Kind())
	ok, _ := d.Get("ok")
	assert.Equal(t, String("true"), ok)
	tags, _ := d.Get("tags")
	assert.Equal(t, `["x","y"]`, tags.Text())
	meta, _ := d.Get("meta")
	assert.Equal(t, `{"k":1}`, meta.Text())

	_, found := d.Get("gone")
	assert.False(t, found)
}

func TestUnmarshalJSON_RejectsNonObject(t *testing.T) {
	var d Document
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &d))
	assert.Error(t, json.Unmarshal([]byte(`"text"`), &d))
}

func TestMarshalJSON_FieldOrder(t *testing.T) {
	d := New().Set("b", Int(2)).Set("a", String("x")).Set("c", Float(0.25))

	data, err := json.Marshal(d)

	require.NoError(t, err)
	assert.Equal(t, `{"b":2,"a":"x","c":0.25}`, string(data))
}

func TestSet_ReplaceKeepsPosition(t *testing.T) {
	d := New().Set("a", Int(1)).Set("b", Int(2)).Set("a", Int(3))

	require.Equal(t, 2, d.Len())
	assert.Equal(t, "a", d.Fields()[0].Name)
	v, _ := d.Get("a")
	assert.Equal(t, Int(3), v)
}

func TestFromMap_SortsKeysAndSkipsNil(t *testing.T) {
	d := FromMap(map[string]any{"b": 1, "a": "x", "n": nil, "f": 2.5})

	require.Equal(t, 3, d.Len())
	assert.Equal(t, "a", d.Fields()[0].Name)
	assert.Equal(t, map[string]any{"a": "x", "b": int64(1), "f": 2.5}, d.Map())
}

func TestValue_Accessors(t *testing.T) {
	tests := []struct {
		name     string
		v        Value
		text     string
		numeric  bool
		integral bool
	}{
		{"string", String("hi"), "hi", false, false},
		{"int", Int(-7), "-7", true, true},
		{"float", Float(2.5), "2.5", true, false},
		{"whole float", Float(3), "3", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.text, tt.v.Text())
			assert.Equal(t, tt.numeric, tt.v.IsNumeric())
			assert.Equal(t, tt.integral, tt.v.IsIntegral())
		})
	}

	i, ok := Float(9.9).Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(9), i)
	_, ok = String("9").Float64()
	assert.False(t, ok)
	assert.False(t, Value{}.IsValid())
}

func TestValueOf_LargeNumberFallsBackToFloat(t *testing.T) {
	v, ok := ValueOf(json.Number("1e30"))
	require.True(t, ok)
	assert.Equal(t, KindFloat, v.Kind())

	v, ok = ValueOf(json.Number("42"))
	require.True(t, ok)
	assert.Equal(t, Int(42), v)
}

func TestDecodeList(t *testing.T) {
	docs, err := DecodeList([]byte(`[{"id":"a"},{"id":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = DecodeList([]byte(`{"docs":[{"id":"c","n":1}]}`))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	n, _ := docs[0].Get("n")
	assert.Equal(t, Int(1), n)

	_, err = DecodeList([]byte(`{"docs":[1]}`))
	assert.Error(t, err)
}
