package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAnyPrefix(t *testing.T) {
	assert.True(t, HasAnyPrefix("inmet_daily", "openweather", "inmet"))
	assert.False(t, HasAnyPrefix("custom_inmet", "openweather", "inmet"))
	assert.False(t, HasAnyPrefix("anything"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b c", "d"}, SplitList(" a, b c ;; d ,"))
	assert.Empty(t, SplitList(" , "))
}
