package orders

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/stock"
)

func testOrder(status Status, movements ...Movement) Order {
	return Order{
		ID:     "ord-1",
		Kind:   KindSales,
		Status: status,
		Lines: []OrderLine{
			{Num: 1, Key: stock.DimensionKey{ItemID: "item-a"}, Qty: 6, UnitPrice: 100},
			{Num: 2, Key: stock.DimensionKey{ItemID: "item-b"}, Qty: 4, UnitPrice: 50},
		},
		Movements: movements,
	}
}

func mv(id string, t MovementType, qty float64, status MovementStatus) Movement {
	return Movement{ID: id, Type: t, Qty: qty, Status: status}
}

func TestPostMovementFlipsDraftToPosted(t *testing.T) {
	order := testOrder(StatusConfirmed, mv("m1", MovementShip, 6, MovementDraft))

	posted, err := PostMovement(&order, "m1")
	require.NoError(t, err)
	require.True(t, posted)
	require.Equal(t, MovementPosted, order.Movements[0].Status)

	// Posting again is a no-op, not an error.
	posted, err = PostMovement(&order, "m1")
	require.NoError(t, err)
	require.False(t, posted)
}

func TestPostMovementRejectsOverShipment(t *testing.T) {
	order := testOrder(StatusShipped,
		mv("m1", MovementShip, 10, MovementPosted),
		mv("m2", MovementShip, 1, MovementDraft))

	_, err := PostMovement(&order, "m2")
	require.ErrorIs(t, err, ErrQtyOutOfRange)
	require.Equal(t, MovementDraft, order.Movements[1].Status)
}

func TestPostMovementDeliveryCeilingIsShippedQty(t *testing.T) {
	order := testOrder(StatusPartiallyShipped,
		mv("m1", MovementShip, 6, MovementPosted),
		mv("m2", MovementDeliver, 7, MovementDraft))

	_, err := PostMovement(&order, "m2")
	require.ErrorIs(t, err, ErrQtyOutOfRange)
}

func TestCancelMovementIsUnconditional(t *testing.T) {
	order := testOrder(StatusPartiallyShipped,
		mv("m1", MovementShip, 6, MovementPosted),
		mv("m2", MovementShip, 2, MovementDraft))

	wasPosted, cancelled, err := CancelMovement(&order, "m1")
	require.NoError(t, err)
	require.True(t, wasPosted)
	require.Equal(t, MovementCancelled, order.Movements[0].Status)
	require.InDelta(t, 6.0, cancelled.Qty, 1e-9)

	wasPosted, _, err = CancelMovement(&order, "m2")
	require.NoError(t, err)
	require.False(t, wasPosted)
	require.Equal(t, MovementCancelled, order.Movements[1].Status)
}

func TestDeriveStatusProgression(t *testing.T) {
	cases := []struct {
		name      string
		movements []Movement
		current   Status
		want      Status
	}{
		{"nothing posted keeps status", nil, StatusConfirmed, StatusConfirmed},
		{"partial shipment", []Movement{mv("m1", MovementShip, 6, MovementPosted)}, StatusConfirmed, StatusPartiallyShipped},
		{"full shipment", []Movement{mv("m1", MovementShip, 10, MovementPosted)}, StatusPartiallyShipped, StatusShipped},
		{"partial delivery", []Movement{
			mv("m1", MovementShip, 10, MovementPosted),
			mv("m2", MovementDeliver, 4, MovementPosted),
		}, StatusShipped, StatusPartiallyDelivered},
		{"full delivery of shipped", []Movement{
			mv("m1", MovementShip, 6, MovementPosted),
			mv("m2", MovementDeliver, 6, MovementPosted),
		}, StatusPartiallyShipped, StatusDelivered},
		{"partial invoice", []Movement{
			mv("m1", MovementShip, 10, MovementPosted),
			mv("m2", MovementDeliver, 10, MovementPosted),
			mv("m3", MovementInvoice, 3, MovementPosted),
		}, StatusDelivered, StatusPartiallyInvoiced},
		{"full invoice", []Movement{
			mv("m1", MovementShip, 10, MovementPosted),
			mv("m2", MovementDeliver, 10, MovementPosted),
			mv("m3", MovementInvoice, 10, MovementPosted),
		}, StatusPartiallyInvoiced, StatusInvoiced},
		{"cancelled rows do not count", []Movement{
			mv("m1", MovementShip, 10, MovementCancelled),
		}, StatusConfirmed, StatusConfirmed},
		{"all posted rows cancelled falls back to confirmed", nil, StatusPartiallyShipped, StatusConfirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := testOrder(tc.current, tc.movements...)
			require.Equal(t, tc.want, DeriveStatus(order))
		})
	}
}

func TestCanTransitionTable(t *testing.T) {
	require.True(t, CanTransition(StatusDraft, StatusApproved))
	require.True(t, CanTransition(StatusApproved, StatusConfirmed))
	require.True(t, CanTransition(StatusConfirmed, StatusCancelled))
	require.False(t, CanTransition(StatusDraft, StatusConfirmed))
	require.False(t, CanTransition(StatusInvoiced, StatusDraft))
	require.False(t, CanTransition(StatusCancelled, StatusApproved))

	// Admin override states are reachable from and escape to anywhere.
	require.True(t, CanTransition(StatusInvoiced, StatusAdminMode))
	require.True(t, CanTransition(StatusAdminMode, StatusDraft))
	require.True(t, CanTransition(StatusCancelled, StatusAnyMode))
}

func TestAllocateWalksLinesInOrder(t *testing.T) {
	lines := testOrder(StatusConfirmed).Lines

	allocs := allocate(lines, 0, 8)
	require.Len(t, allocs, 2)
	require.InDelta(t, 6.0, allocs[0].Qty, 1e-9)
	require.Equal(t, "item-a", allocs[0].Line.Key.ItemID)
	require.InDelta(t, 2.0, allocs[1].Qty, 1e-9)
	require.Equal(t, "item-b", allocs[1].Line.Key.ItemID)

	// Remaining quantity picks up where the first posting stopped.
	rest := allocate(lines, 8, 2)
	require.Len(t, rest, 1)
	require.Equal(t, "item-b", rest[0].Line.Key.ItemID)
	require.InDelta(t, 2.0, rest[0].Qty, 1e-9)
}
