package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		input Fingerprint
		want  bool
	}{
		{
			name:  "Valid MD5 (32 chars)",
			input: Fingerprint(strings.Repeat("a", 32)),
			want:  true,
		},
		{
			name:  "Too Short",
			input: Fingerprint("abc123"),
			want:  false,
		},
		{
			name:  "Empty",
			input: Fingerprint(""),
			want:  false,
		},
		{
			name:  "SHA256 length",
			input: Fingerprint(strings.Repeat("a", 64)),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input.IsValid())
		})
	}
}

func TestFingerprint_Short(t *testing.T) {
	assert.Equal(t, "abc", Fingerprint("abc").Short())
	assert.Equal(t, "01234567", Fingerprint("0123456789abcdef").Short())

	var zero Fingerprint
	assert.True(t, zero.IsZero())
}

func TestIDs_UnmarshalJSON(t *testing.T) {
	// Piwigo 有时返回数字，有时返回字符串
	var payload struct {
		A AssetID  `json:"a"`
		B AlbumID  `json:"b"`
		C *AssetID `json:"c"`
		D *AssetID `json:"d"`
	}
	err := json.Unmarshal([]byte(`{"a": 42, "b": "7", "c": "13", "d": null}`), &payload)
	require.NoError(t, err)

	assert.Equal(t, AssetID(42), payload.A)
	assert.Equal(t, AlbumID(7), payload.B)
	require.NotNil(t, payload.C)
	assert.Equal(t, AssetID(13), *payload.C)
	assert.Nil(t, payload.D)

	var bad AlbumID
	assert.Error(t, json.Unmarshal([]byte(`"seven"`), &bad))
}

func TestAlbumPath_StructuralEquality(t *testing.T) {
	a := AlbumPath{"Trips", "Paris"}
	b := AlbumPath{"Trips", "Paris"}
	c := AlbumPath{"Trips Paris"}

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.Equal(c), "拼接后的名字不能和多级路径冲突")

	m := map[string]int{a.Key(): 1}
	assert.Equal(t, 1, m[b.Key()])
}

func TestAlbumPath_Prefixes(t *testing.T) {
	p := AlbumPath{"A", "B", "C"}

	prefixes := p.Prefixes()
	require.Len(t, prefixes, 3)
	assert.Equal(t, AlbumPath{"A"}, prefixes[0])
	assert.Equal(t, AlbumPath{"A", "B"}, prefixes[1])
	assert.Equal(t, AlbumPath{"A", "B", "C"}, prefixes[2])

	assert.Equal(t, AlbumPath{"A", "B"}, p.Parent())
	assert.Nil(t, AlbumPath{"A"}.Parent())
	assert.Equal(t, "C", p.Name())
	assert.Equal(t, "A / B / C", p.String())
}

func TestAlbumPath_ChildDoesNotAlias(t *testing.T) {
	base := make(AlbumPath, 1, 4)
	base[0] = "root"

	x := base.Child("x")
	y := base.Child("y")

	assert.Equal(t, AlbumPath{"root", "x"}, x)
	assert.Equal(t, AlbumPath{"root", "y"}, y)
}
