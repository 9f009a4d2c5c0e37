package alerting

import (
	"context"
	"fmt"

	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	calls   []string
	failAll bool
	perm    bool
}

func (s *stubSender) Send(ctx context.Context, chatID, text string) error {
	s.calls = append(s.calls, text)
	if s.failAll {
		return &SendError{Permanent: s.perm, Err: fmt.Errorf("stub failure")}
	}
	return nil
}

func TestSenderMarksRowSentOnSuccess(t *testing.T) {
	repo := newTestAlertRepo(t)
	_, err := repo.EnqueueOutbox("chat-1", "hello", "fp-1", 1700000000)
	require.NoError(t, err)

	stub := &stubSender{}
	sender := NewSender(repo, stub, nil, zerolog.Nop())
	require.NoError(t, sender.DrainOnce(context.Background()))

	require.Len(t, stub.calls, 1)
	rows, err := repo.DrainPending(10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestSenderLeavesRowOnTransientFailure(t *testing.T) {
	repo := newTestAlertRepo(t)
	_, err := repo.EnqueueOutbox("chat-1", "hello", "fp-2", 1700000000)
	require.NoError(t, err)

	stub := &stubSender{failAll: true, perm: false}
	sender := NewSender(repo, stub, nil, zerolog.Nop())
	require.NoError(t, sender.DrainOnce(context.Background()))

	rows, err := repo.DrainPending(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestSenderMarksFailedOnPermanentFailure(t *testing.T) {
	repo := newTestAlertRepo(t)
	_, err := repo.EnqueueOutbox("chat-1", "hello", "fp-3", 1700000000)
	require.NoError(t, err)

	stub := &stubSender{failAll: true, perm: true}
	sender := NewSender(repo, stub, nil, zerolog.Nop())
	require.NoError(t, sender.DrainOnce(context.Background()))

	rows, err := repo.DrainPending(10)
	require.NoError(t, err)
	require.Empty(t, rows, "permanently failed rows must not be retried")
}
