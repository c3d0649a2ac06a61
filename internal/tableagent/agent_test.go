package tableagent

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"orc-import/pkg/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestAgentWritesRows(t *testing.T) {
	dir := t.TempDir()
	table := &model.TableDescription{Name: "rows", Disposition: model.DispositionTruncate, Concurrency: 2}
	writer := NewCSVTableWriter(dir)

	agent := NewAgent(table, writer, testLogger(), Config{})
	require.NoError(t, agent.Start())

	require.NoError(t, agent.Submit(context.Background(), RowTask{
		ID:   "t1",
		Item: &model.ImportItem{Name: "rows.csv"},
		Rows: [][]string{{"a", "1"}, {"b", "2"}},
	}))

	require.Eventually(t, func() bool {
		return agent.Stats().CompletedTasks == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, agent.Stop())

	content, err := os.ReadFile(dir + "/rows.csv")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "a,1"))
	assert.True(t, strings.Contains(string(content), "b,2"))
}

func TestParseCSV(t *testing.T) {
	header, rows, err := ParseCSV(strings.NewReader("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, header)
	assert.Len(t, rows, 2)
}

func TestCSVTableWriterCreateNewFailsIfExists(t *testing.T) {
	dir := t.TempDir()
	table := &model.TableDescription{Name: "once", Disposition: model.DispositionCreateNew}
	w := NewCSVTableWriter(dir)
	require.NoError(t, w.Prepare(table))
	require.NoError(t, w.Close(table))

	w2 := NewCSVTableWriter(dir)
	err := w2.Prepare(table)
	assert.Error(t, err)
}
