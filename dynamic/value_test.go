package dynamic_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/dynamic"
)

func TestFromGo(t *testing.T) {
	v, err := dynamic.FromGo(map[string]any{
		"score": 100,
		"name":  "player",
		"tags":  []string{"a", "b"},
		"blob":  []byte{0x01, 0x02},
		"nil":   nil,
	})
	require.NoError(t, err)

	score, ok := v.GetNumber("score")
	require.True(t, ok)
	assert.Equal(t, float64(100), score)

	tags, ok := v.Get("tags")
	require.True(t, ok)
	assert.Equal(t, dynamic.KindList, tags.Kind())
	assert.Equal(t, 2, tags.Len())

	blob, ok := v.Get("blob")
	require.True(t, ok)
	b, ok := blob.AsBinary()
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, b)

	n, ok := v.Get("nil")
	require.True(t, ok)
	assert.True(t, n.IsNull())
}

func TestFromGo_Unsupported(t *testing.T) {
	_, err := dynamic.FromGo(make(chan int))
	assert.Error(t, err)

	_, err = dynamic.FromGo(map[int]string{1: "a"})
	assert.Error(t, err)
}

func TestJSON_PreservesOrderAndBinary(t *testing.T) {
	v := dynamic.Object(
		"z", 1,
		"a", dynamic.Binary([]byte("hi")),
		"m", dynamic.List(dynamic.Bool(true), dynamic.Null()),
	)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"z":1,"a":{"$binary":"aGk="},"m":[true,null]}`, string(b))
	assert.Equal(t, `{"z":1,"a":{"$binary":"aGk="},"m":[true,null]}`, string(b))

	var back dynamic.Value
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, v.Equal(back))
	assert.Equal(t, []string{"z", "a", "m"}, back.Keys())
}

func TestParse_RejectsTrailingData(t *testing.T) {
	_, err := dynamic.Parse([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	raw := []byte{1, 2, 3}
	orig := dynamic.Object("data", dynamic.Binary(raw), "list", dynamic.List(dynamic.Int(1)))
	cp := orig.Clone()

	raw[0] = 9
	assert.True(t, orig.Equal(cp))

	updated := cp.With("extra", dynamic.String("x"))
	_, ok := cp.Get("extra")
	assert.False(t, ok)
	_, ok = updated.Get("extra")
	assert.True(t, ok)
}

func TestEqual_IgnoresKeyOrder(t *testing.T) {
	a := dynamic.Object("x", 1, "y", 2)
	b := dynamic.Object("y", 2, "x", 1)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(dynamic.Object("x", 1)))
	assert.False(t, dynamic.Int(1).Equal(dynamic.String("1")))
}

func TestExportAndDecode(t *testing.T) {
	v := dynamic.Object("statusCode", 200, "header", dynamic.Object("Content-Type", "text/plain"))

	exported, ok := v.Export().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(200), exported["statusCode"])

	var out struct {
		StatusCode int               `json:"statusCode"`
		Header     map[string]string `json:"header"`
	}
	require.NoError(t, v.Decode(&out))
	assert.Equal(t, 200, out.StatusCode)
	assert.Equal(t, "text/plain", out.Header["Content-Type"])
}

func TestWithout(t *testing.T) {
	v := dynamic.Object("url", "https://a", "success", true, "fail", true)
	assert.Equal(t, []string{"url"}, v.Without("success", "fail").Keys())
}

func TestAsInt(t *testing.T) {
	n, ok := dynamic.Number(3).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	_, ok = dynamic.Number(3.5).AsInt()
	assert.False(t, ok)
}
