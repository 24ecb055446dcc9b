package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/model"
)

type recordingNotifier struct {
	runs   []model.Run
	err    error
	closed bool
}

func (r *recordingNotifier) RunFinished(_ context.Context, run model.Run) error {
	r.runs = append(r.runs, run)
	return r.err
}

func (r *recordingNotifier) Close() error {
	r.closed = true
	return nil
}

func TestMulti_FansOutPastFailures(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("broker down")}
	ok := &recordingNotifier{}
	m := NewMulti(failing, ok, Nop{})

	run := model.Run{ID: "r1", Status: model.RunStatusCompleted}
	err := m.RunFinished(context.Background(), run)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []model.Run{run}, failing.runs)
	assert.Equal(t, []model.Run{run}, ok.runs)
}

func TestMulti_CloseClosesClosers(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	require.NoError(t, NewMulti(a, Nop{}, b).Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNew_NothingConfigured(t *testing.T) {
	m, err := New(config.NotifyConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.RunFinished(context.Background(), model.Run{ID: "r1"}))
}

func TestNew_MailNeedsRecipients(t *testing.T) {
	m, err := New(config.NotifyConfig{Mail: config.MailConfig{Host: "smtp.test", Port: 587}})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	m, err = New(config.NotifyConfig{Mail: config.MailConfig{Host: "smtp.test", Port: 587, To: []string{"ops@leads.test"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}
