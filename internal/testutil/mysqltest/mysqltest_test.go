package mysqltest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "TestPreload_scoped_counts", sanitizeName("TestPreload/scoped counts"))
	assert.Len(t, sanitizeName("TestAVeryLongNameThatKeepsGoingPastTheLimitForSure"), 40)
}

func TestSplitSQL(t *testing.T) {
	got := splitSQL("CREATE TABLE a (id INT);\n\n  INSERT INTO a VALUES (1);  ;")
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "INSERT INTO a VALUES (1)"}, got)
}

func TestIsValidDatabaseName(t *testing.T) {
	assert.True(t, isValidDatabaseName("test_Preload_123"))
	assert.False(t, isValidDatabaseName(""))
	assert.False(t, isValidDatabaseName("test-db"))
	assert.False(t, isValidDatabaseName("test`db"))
}
