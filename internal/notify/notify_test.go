package notify

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"orc-import/pkg/model"
)

func TestPublishDeliversToAllSinks(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	ch := NewChannel(logger)

	var got1, got2 []*model.Notification
	ch.Subscribe(func(n *model.Notification) { got1 = append(got1, n) })
	ch.Subscribe(func(n *model.Notification) { got2 = append(got2, n) })

	n1 := model.MakeSuccessNotification(model.NotificationImport, &model.ImportItem{Name: "a.csv"})
	n2 := model.MakeFailureNotification(model.NotificationExtract, &model.ImportItem{Name: "b.7z"}, assertErr{})

	ch.Publish(n1)
	ch.Publish(n2)

	assert.Equal(t, []*model.Notification{n1, n2}, got1)
	assert.Equal(t, []*model.Notification{n1, n2}, got2)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
