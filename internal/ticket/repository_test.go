package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrimarket/internal/testdb"
	"agrimarket/pkg/session"
	"agrimarket/pkg/ticket"
)

func TestRepositoryConversation(t *testing.T) {
	db := testdb.Open(t)
	testdb.SeedUser(t, db, "usr_b", "buyer")
	testdb.SeedUser(t, db, "usr_s", "support")
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)

	tk := ticket.Ticket{
		ID:            "tkt_1",
		UserID:        "usr_b",
		Subject:       "Truck late",
		Category:      "transport",
		Status:        ticket.StatusOpen,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	first, err := repo.Create(ctx, tk, ticket.Message{
		ID: "msg_1", TicketID: tk.ID, SenderID: "usr_b", SenderRole: session.RoleBuyer, Body: "Where is it?", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)

	tk.Status = ticket.StatusInProgress
	tk.LastMessageAt = now.Add(time.Minute)
	tk.UpdatedAt = tk.LastMessageAt
	reply, err := repo.Append(ctx, tk, ticket.Message{
		ID: "msg_2", TicketID: tk.ID, ClientID: "0d7f3b8e-3f5e-4d6a-8f4e-2b1c9a7e5d11",
		SenderID: "usr_s", SenderRole: session.RoleSupport, Body: "Checking", CreatedAt: tk.LastMessageAt,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), reply.Seq)

	got, err := repo.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusInProgress, got.Status)
	assert.Equal(t, tk.LastMessageAt, got.LastMessageAt)

	dup, err := repo.MessageByClientID(ctx, tk.ID, reply.ClientID)
	require.NoError(t, err)
	assert.Equal(t, reply.ID, dup.ID)
	_, err = repo.MessageByClientID(ctx, tk.ID, "0d7f3b8e-0000-4d6a-8f4e-2b1c9a7e5d11")
	assert.ErrorIs(t, err, ticket.ErrMessageNotFound)

	unread, err := repo.Unread(ctx, tk, true)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
	unread, err = repo.Unread(ctx, tk, false)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	readAt := now.Add(2 * time.Minute)
	seqs, err := repo.MarkRead(ctx, tk, true, 2, readAt)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, seqs)
	seqs, err = repo.MarkRead(ctx, tk, true, 2, readAt)
	require.NoError(t, err)
	assert.Empty(t, seqs)

	msgs, err := repo.Messages(ctx, tk.ID, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ReadAt)
	assert.Equal(t, readAt, *msgs[0].ReadAt)

	tk.Status = ticket.StatusResolved
	require.NoError(t, repo.SetStatus(ctx, tk))
	mine, err := repo.List(ctx, "usr_b")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ticket.StatusResolved, mine[0].Status)
	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.Get(ctx, "tkt_missing")
	assert.ErrorIs(t, err, ticket.ErrNotFound)
	assert.ErrorIs(t, repo.SetStatus(ctx, ticket.Ticket{ID: "tkt_missing", Status: ticket.StatusClosed}), ticket.ErrNotFound)
}
