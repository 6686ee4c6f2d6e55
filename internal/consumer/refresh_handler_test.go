package consumer

import (
	"context"
	"errors"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/events"
	"example.com/biometrics/internal/refresh"
)

type stubRefresher struct {
	requests []refresh.Request
	report   refresh.Report
	err      error
}

func (s *stubRefresher) Refresh(_ context.Context, req refresh.Request) (refresh.Report, error) {
	s.requests = append(s.requests, req)
	return s.report, s.err
}

func syncMessage(payload string) Message {
	return Message{Topic: events.SyncRequestTopic, EventType: events.SyncRequestedType, Payload: []byte(payload)}
}

func TestRefreshHandlerForwardsRange(t *testing.T) {
	refresher := &stubRefresher{report: refresh.Report{RefreshID: "r1", Status: domain.RefreshCompleted}}
	logger, _ := logtest.NewNullLogger()
	handler := NewRefreshHandler(refresher, logger)

	err := handler.Handle(context.Background(), syncMessage(`{"start_date":"2024-05-01","end_date":"2024-05-03"}`))
	require.NoError(t, err)
	require.Equal(t, []refresh.Request{{From: "2024-05-01", To: "2024-05-03"}}, refresher.requests)

	require.NoError(t, handler.Handle(context.Background(), syncMessage(`{}`)))
	require.Equal(t, refresh.Request{}, refresher.requests[1], "empty dates defer to the backfill window")
}

func TestRefreshHandlerClassifiesErrors(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	ctx := context.Background()

	cases := []struct {
		name    string
		msg     Message
		err     error
		poison  bool
		wantErr bool
	}{
		{name: "unsupported type", msg: Message{EventType: "summary.upserted", Payload: []byte(`{}`)}, poison: true, wantErr: true},
		{name: "bad payload", msg: syncMessage(`[]`), poison: true, wantErr: true},
		{name: "invalid range", msg: syncMessage(`{}`), err: domain.ErrInvalidRange, poison: true, wantErr: true},
		{name: "superseded", msg: syncMessage(`{}`), err: domain.ErrRefreshSuperseded},
		{name: "storage failure", msg: syncMessage(`{}`), err: &domain.StorageError{Date: "2024-05-01", Err: errors.New("disk full")}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewRefreshHandler(&stubRefresher{err: tc.err}, logger)
			err := handler.Handle(ctx, tc.msg)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.poison, errors.Is(err, ErrPoison))
		})
	}
}
