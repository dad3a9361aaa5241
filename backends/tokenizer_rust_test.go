//go:build ORT || ALL

package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knights-analytics/hugot-serverless/options"
)

func TestRustTokenizer(t *testing.T) {
	checkFixtureTokenizer(t, options.BackendORT)
	assert.Equal(t, "RUST", loadFixtureTokenizer(t, options.BackendORT, 0).Runtime)
}
