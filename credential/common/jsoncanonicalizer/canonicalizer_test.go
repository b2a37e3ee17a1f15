package jsoncanonicalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "sorts keys and strips whitespace",
			input:    `{ "b": 1, "a": { "d": [1, 2], "c": null } }`,
			expected: `{"a":{"c":null,"d":[1,2]},"b":1}`,
		},
		{
			name:     "keeps array order",
			input:    `["z", "a", "m"]`,
			expected: `["z","a","m"]`,
		},
		{
			name:     "formats numbers like ECMAScript",
			input:    `[1.0, 4e18, 1e21, 0.000001, 1e-7, -0, 1.5]`,
			expected: `[1,4000000000000000000,1e+21,0.000001,1e-7,0,1.5]`,
		},
		{
			name:     "escapes only what is required",
			input:    `{"s": "quote\" slash\\ tab\t nl\n bell\u0007 </tag> é"}`,
			expected: `{"s":"quote\" slash\\ tab\t nl\n bell\u0007 </tag> é"}`,
		},
		{
			name:     "orders keys by UTF-16 code units",
			input:    `{"\ufb33": 1, "😀": 2, "a": 3}`,
			expected: "{\"a\":3,\"😀\":2,\"\ufb33\":1}",
		},
		{
			name:    "rejects trailing data",
			input:   `{"a":1} {"b":2}`,
			wantErr: true,
		},
		{
			name:    "rejects a bare scalar",
			input:   `"plain"`,
			wantErr: true,
		},
		{
			name:    "rejects invalid JSON",
			input:   `{"a":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Transform([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestTransformIsIdempotent(t *testing.T) {
	inputs := []string{
		`{"credentialSubject":{"price":"{\"hidden\":true}","quantity":3,"componentCredentials":["b","a"]},"@context":["https://www.w3.org/2018/credentials/v1"],"id":"x"}`,
		`{"nested":{"z":{"y":{"x":[{"b":true,"a":false}]}}}}`,
		`[]`,
		`[{"b":[1.50,2e3]},"x"]`,
	}

	for _, in := range inputs {
		first, err := Transform([]byte(in))
		require.NoError(t, err)
		second, err := Transform(first)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))
	}
}

func TestMarshalIgnoresConstructionOrder(t *testing.T) {
	a := map[string]interface{}{"id": "1", "holder": map[string]interface{}{"name": "Buyer", "id": "did:ethr:1:0xabc"}}
	b := map[string]interface{}{"holder": map[string]interface{}{"id": "did:ethr:1:0xabc", "name": "Buyer"}, "id": "1"}

	ca, err := Marshal(a)
	require.NoError(t, err)
	cb, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}
