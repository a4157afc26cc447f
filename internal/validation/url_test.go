package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := map[string]struct {
		url   string
		valid bool
	}{
		"https":          {url: "https://example.com/file.iso", valid: true},
		"http with port": {url: "http://127.0.0.1:8080/x", valid: true},
		"s3":             {url: "s3://bucket/key", valid: true},
		"empty":          {url: "", valid: false},
		"no scheme":      {url: "example.com/file", valid: false},
		"ftp":            {url: "ftp://example.com/file", valid: false},
		"no host":        {url: "http:///path", valid: false},
		"garbage":        {url: "://%%", valid: false},
		"padded":         {url: " https://example.com", valid: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := ValidateURL(tc.url)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidURL)
			}
		})
	}
}

func TestValidateURLs(t *testing.T) {
	assert.NoError(t, ValidateURLs([]string{"https://a.com/1", "s3://b/2"}))
	assert.ErrorIs(t, ValidateURLs([]string{"https://a.com/1", "nope"}), ErrInvalidURL)
}
