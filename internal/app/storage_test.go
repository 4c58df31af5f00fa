package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenStorage_Memory(t *testing.T) {
	ctx := context.Background()
	st, err := openStorage(ctx, zap.NewNop(), "")
	require.NoError(t, err)
	defer st.close()

	assert.Nil(t, st.ping)

	dish, err := st.catalog.Dish(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Kung Pao Chicken", dish.Name)

	meal, err := st.catalog.SetMeal(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Family Dinner", meal.Name)

	addr, err := st.addresses.Get(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "Han Meimei", addr.Consignee)

	_, err = st.addresses.Get(ctx, 1, 2)
	require.Error(t, err)
}
