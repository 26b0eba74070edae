package writer

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mem-analysis/pkg/compression"
)

type region struct {
	Base uint64 `json:"base"`
	Desc string `json:"desc"`
}

func TestJSONWriter_Compact(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONWriter[region]().Write(region{Base: 0x1000, Desc: "stack"}, &buf))
	assert.Equal(t, `{"base":4096,"desc":"stack"}`+"\n", buf.String())
}

func TestJSONWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrettyJSONWriter[[]region]().Write([]region{{Base: 1, Desc: "a"}}, &buf))
	assert.Equal(t, "[\n  {\n    \"base\": 1,\n    \"desc\": \"a\"\n  }\n]\n", buf.String())
}

func TestJSONWriter_WriteToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	want := region{Base: 0x7ffe0000, Desc: "KUSER_SHARED_DATA"}
	require.NoError(t, NewJSONWriter[region]().WriteToFile(want, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got region
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, want, got)

	err = NewJSONWriter[region]().WriteToFile(want, filepath.Join(t.TempDir(), "missing", "x.json"))
	assert.ErrorContains(t, err, "failed to create file")
}

func TestCompressedWriter(t *testing.T) {
	data := make([]region, 200)
	for i := range data {
		data[i] = region{Base: uint64(i) << 16, Desc: "Default Heap Segment"}
	}

	for _, codec := range []compression.Type{compression.TypeZstd, compression.TypeGzip, compression.TypeNone} {
		t.Run(codec.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "map.json"+compression.Extension(codec))
			result, err := NewCompressedWriter[[]region](codec).WriteToFile(data, path)
			require.NoError(t, err)
			if codec == compression.TypeNone {
				assert.Equal(t, result.JSONSize, result.CompressedSize)
				assert.InDelta(t, 100.0, result.CompressionPct, 0.001)
			} else {
				assert.Less(t, result.CompressedSize, result.JSONSize)
			}

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, codec, compression.DetectType(raw))
			plain, err := compression.AutoDecompress(raw)
			require.NoError(t, err)

			var got []region
			require.NoError(t, json.Unmarshal(plain, &got))
			assert.Equal(t, data, got)
		})
	}
}

func TestCompressedWriter_UnknownCodec(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewCompressedWriter[region](compression.Type(42)).Write(region{}, &buf)
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}
