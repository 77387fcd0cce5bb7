package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"line-chat-relay/internal/domain"
	"line-chat-relay/internal/usecase"
)

type fakeStore struct {
	msgs     []domain.Message
	err      error
	limit    int
	erased   []string
	readUser string
}

func (f *fakeStore) ReadWindow(_ context.Context, userID string, limit int) ([]domain.Message, error) {
	f.readUser, f.limit = userID, limit
	return f.msgs, f.err
}

func (f *fakeStore) EraseAll(_ context.Context, userID string) error {
	f.erased = append(f.erased, userID)
	return f.err
}

type fakeRelay struct {
	out usecase.RelayOutput
	err error
	in  usecase.RelayInput
}

func (f *fakeRelay) Relay(_ context.Context, in usecase.RelayInput) (usecase.RelayOutput, error) {
	f.in = in
	return f.out, f.err
}

func run(t *testing.T, b *backend, args ...string) (string, string, error) {
	t.Helper()
	var gotEnv string
	root := newRootCmd(func(_ context.Context, envFile string) (*backend, error) {
		gotEnv = envFile
		return b, nil
	})
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		require.NotEmpty(t, gotEnv)
	}
	return stdout.String(), stderr.String(), err
}

func TestHistoryCmd(t *testing.T) {
	store := &fakeStore{msgs: []domain.Message{
		{UserID: "U1", Timestamp: 1700000000000, Role: domain.RoleUser, Content: "hi"},
		{UserID: "U1", Timestamp: 1700000001000, Role: domain.RoleAssistant, Content: "hello"},
	}}
	out, _, err := run(t, &backend{store: store}, "history", "--user", "U1", "-n", "2")
	require.NoError(t, err)
	require.Equal(t, "U1", store.readUser)
	require.Equal(t, 2, store.limit)
	require.Equal(t,
		"2023-11-14T22:13:20Z user      hi\n"+
			"2023-11-14T22:13:21Z assistant hello\n", out)
}

func TestHistoryCmd_Empty(t *testing.T) {
	out, _, err := run(t, &backend{store: &fakeStore{}}, "history", "-u", "U1")
	require.NoError(t, err)
	require.Equal(t, "(no history)\n", out)
}

func TestEraseCmd(t *testing.T) {
	store := &fakeStore{}
	out, _, err := run(t, &backend{store: store}, "erase", "-u", "U1")
	require.NoError(t, err)
	require.Equal(t, []string{"U1"}, store.erased)
	require.Contains(t, out, "erased history for U1")

	store.err = errors.New("throttled")
	_, _, err = run(t, &backend{store: store}, "erase", "-u", "U1")
	require.ErrorContains(t, err, "throttled")
}

func TestChatCmd(t *testing.T) {
	relay := &fakeRelay{out: usecase.RelayOutput{
		Reply:      "It is sunny.",
		PersistErr: &usecase.Error{Code: usecase.ErrorPartialPersistence, Reason: "assistant_turn_not_saved"},
	}}
	out, errOut, err := run(t, &backend{relay: relay}, "chat", "-u", "U1", "weather?")
	require.NoError(t, err)
	require.Equal(t, "U1", relay.in.UserID)
	require.Equal(t, "weather?", relay.in.Content)
	require.Positive(t, relay.in.Timestamp)
	require.Equal(t, "It is sunny.\n", out)
	require.Contains(t, errOut, "assistant_turn_not_saved")
}

func TestChatCmd_Errors(t *testing.T) {
	_, _, err := run(t, &backend{relay: &fakeRelay{}}, "chat", "-u", "U1")
	require.Error(t, err, "message argument is required")

	_, _, err = run(t, &backend{relay: &fakeRelay{}}, "chat", "hello")
	require.Error(t, err, "user flag is required")

	relay := &fakeRelay{err: &usecase.Error{Code: usecase.ErrorCompletion, Reason: "agent_error"}}
	_, _, err = run(t, &backend{relay: relay}, "chat", "-u", "U1", "hello")
	require.ErrorContains(t, err, "COMPLETION_ERROR")
}
