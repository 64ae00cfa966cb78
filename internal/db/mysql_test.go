package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureParseTime(t *testing.T) {
	assert.Equal(t,
		"root:pw@tcp(localhost:3306)/followup?parseTime=true",
		ensureParseTime("root:pw@tcp(localhost:3306)/followup"))
	assert.Equal(t,
		"root:pw@tcp(localhost:3306)/followup?charset=utf8mb4&parseTime=true",
		ensureParseTime("root:pw@tcp(localhost:3306)/followup?charset=utf8mb4"))
	// An explicit setting, either way, is respected.
	assert.Equal(t,
		"root:pw@tcp(localhost:3306)/followup?parseTime=false",
		ensureParseTime("root:pw@tcp(localhost:3306)/followup?parseTime=false"))
}
