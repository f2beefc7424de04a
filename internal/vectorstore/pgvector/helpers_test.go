package pgvector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentStripsUnsafeCharacters(t *testing.T) {
	assert.Equal(t, `"docs"`, quoteIdent("docs"))
	assert.Equal(t, `"docsDROPTABLE"`, quoteIdent("docs; DROP TABLE"))
}

func TestVectorLiteralFormatsFloats(t *testing.T) {
	assert.Equal(t, "[1,2.5,-3]", vectorLiteral([]float32{1, 2.5, -3}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
