package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockConn struct {
	mock.Mock
}

func (m *MockConn) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func (m *MockConn) IsClosed() bool {
	return m.Called().Bool(0)
}

func (m *MockConn) Drain() error {
	return m.Called().Error(0)
}

func (m *MockConn) Close() {
	m.Called()
}

func TestPublishSubjectAndPayload(t *testing.T) {
	conn := &MockConn{}
	conn.On("IsClosed").Return(false)

	var published []byte
	conn.On("Publish", "fgmachine.experiments.e_1.finished", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(1).([]byte) }).
		Return(nil)

	publisher := newNatsPublisher(conn, "fgmachine.experiments.")

	code := 2
	event := &Event{
		Kind:       KindFinished,
		Experiment: "e.1",
		Project:    "mnist",
		Status:     "fail",
		ExitCode:   &code,
		Time:       time.Unix(0, 0).UTC(),
	}
	require.NoError(t, publisher.Publish(context.Background(), event))
	conn.AssertExpectations(t)

	decoded := Event{}
	require.NoError(t, json.Unmarshal(published, &decoded))
	assert.Equal(t, "e.1", decoded.Experiment)
	assert.Equal(t, 2, *decoded.ExitCode)
}

func TestPublishWhenClosed(t *testing.T) {
	conn := &MockConn{}
	conn.On("IsClosed").Return(true)

	publisher := newNatsPublisher(conn, "fgmachine")
	err := publisher.Publish(context.Background(), &Event{Kind: KindStarted, Experiment: "e"})
	assert.Error(t, err)
	conn.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestClose(t *testing.T) {
	conn := &MockConn{}
	conn.On("Drain").Return(nil)
	conn.On("Close").Return()

	newNatsPublisher(conn, "fgmachine").Close()
	conn.AssertExpectations(t)
}

func TestNopPublisher(t *testing.T) {
	publisher := NewNopPublisher()
	assert.NoError(t, publisher.Publish(context.Background(), &Event{}))
	publisher.Close()
}
