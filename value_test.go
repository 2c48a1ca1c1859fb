package lily

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefcountingDestroysOnLastRelease(t *testing.T) {
	col := NewCollector(1<<30, nil)
	inner := StringValue(col, "hello")
	l := ListValue(col, []Value{inner})

	derefValue(inner) // the constructor's own local ref
	assert.Equal(t, uint32(1), *l.obj.(*listObj).refs())

	derefValue(l)
	assert.Equal(t, uint32(0), *inner.obj.(*stringObj).refs())
}

func TestAssignIntoHandlesSelfAssignment(t *testing.T) {
	col := NewCollector(1<<30, nil)
	v := StringValue(col, "x")
	dst := v
	assignInto(&dst, dst)
	assert.Equal(t, uint32(1), *v.obj.(*stringObj).refs())
}

func TestHashGetSetRoundTrip(t *testing.T) {
	col := NewCollector(1<<30, nil)
	h := HashValue(col)
	h.HashSet(0, IntegerValue(1), StringValue(col, "one"))
	h.HashSet(0, IntegerValue(2), StringValue(col, "two"))

	got, err := h.HashGet(0, IntegerValue(1))
	require.NoError(t, err)
	assert.Equal(t, "one", got.AsString())

	h.HashSet(0, IntegerValue(1), StringValue(col, "uno"))
	got, err = h.HashGet(0, IntegerValue(1))
	require.NoError(t, err)
	assert.Equal(t, "uno", got.AsString())
	assert.Equal(t, 2, h.HashLen())

	_, err = h.HashGet(0, IntegerValue(99))
	assert.Error(t, err)
}

func TestValuesEqualBoundsRecursion(t *testing.T) {
	col := NewCollector(1<<30, nil)
	a := ListValue(col, nil)
	a.obj.(*listObj).items = []Value{a} // self-referential cycle

	_, err := ValuesEqual(a, a, 5)
	assert.Error(t, err)
}

// TestValuesEqualHashRejectsCollidingKeysWithEqualValues builds two hashes
// whose entries land in the same bucket (equal keyHash) but carry
// different keys and equal values, directly manipulating the bucket map
// to force the collision. valuesEqual must compare keys as well as
// values within a bucket, not just match entries by value.
func TestValuesEqualHashRejectsCollidingKeysWithEqualValues(t *testing.T) {
	col := NewCollector(1<<30, nil)

	a := HashValue(col)
	b := HashValue(col)

	const sharedBucket = 7
	a.obj.(*hashObj).buckets[sharedBucket] = []*hashElement{
		{keyHash: sharedBucket, key: IntegerValue(1), value: StringValue(col, "x")},
	}
	b.obj.(*hashObj).buckets[sharedBucket] = []*hashElement{
		{keyHash: sharedBucket, key: IntegerValue(2), value: StringValue(col, "x")},
	}

	eq, err := ValuesEqual(a, b, 10)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestEmptyVariantSharesCanonicalValue(t *testing.T) {
	col := NewCollector(1<<30, nil)
	enum := NewClass(allocClassID(), "Option", "sample")
	none := NewEmptyVariant(col, 0, "None", enum)

	a := EnumValue(col, none, nil)
	b := EnumValue(col, none, nil)
	assert.Equal(t, a.obj, b.obj)
}
