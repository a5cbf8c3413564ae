package datactx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnd_DropsZeroConds(t *testing.T) {
	combined := And(Cond{}, Eq("id", 1), Cond{})
	assert.Equal(t, OpEq, combined.Op)
	assert.Equal(t, "id", combined.Column)
}

func TestAnd_Empty(t *testing.T) {
	assert.True(t, And().IsZero())
	assert.True(t, And(Cond{}, Cond{}).IsZero())
}

func TestAnd_Multiple(t *testing.T) {
	combined := And(Eq("a", 1), Gt("b", 2))
	assert.Equal(t, OpAnd, combined.Op)
	assert.Len(t, combined.Conds, 2)
	assert.Equal(t, OpEq, combined.Conds[0].Op)
	assert.Equal(t, OpGt, combined.Conds[1].Op)
}

func TestDatatypeString(t *testing.T) {
	assert.Equal(t, "Int", TypeInt.String())
	assert.Equal(t, "Float", TypeFloat.String())
	assert.Equal(t, "Boolean", TypeBoolean.String())
	assert.Equal(t, "Date", TypeDate.String())
	assert.Equal(t, "String", TypeString.String())
}
