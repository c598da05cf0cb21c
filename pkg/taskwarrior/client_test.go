package taskwarrior

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

const exportJSON = `[{
	"uuid": "f45a05b3-c12e-42e5-9c9c-333333333333",
	"description": "Buy milk",
	"status": "pending",
	"due": "20230101T120000Z",
	"scheduled": "20221231T090000Z",
	"modified": "20221230T080000Z",
	"project": "Groceries",
	"priority": "H",
	"tags": ["buy", "food"],
	"annotations": [
		{"entry": "20230101T120500Z", "description": "Don't forget almond milk"}
	]
}, {
	"uuid": "0b7d0c3e-0000-4000-8000-000000000002",
	"description": "File taxes",
	"status": "completed"
}]`

type fakeRunner struct {
	calls  [][]string
	output map[string]string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.output[args[0]]), nil
}

func (f *fakeRunner) ran(verb string) bool {
	for _, c := range f.calls {
		for _, a := range c {
			if a == verb {
				return true
			}
		}
	}
	return false
}

type staticKeys map[string]string

func (k staticKeys) NaturalKey(_, id string) (string, bool) {
	key, ok := k[id]
	return key, ok
}

func TestParseTasks(t *testing.T) {
	input := `{"uuid": "a", "description": "one", "status": "pending"}
{"uuid": "b", "description": "two", "status": "completed", "end": "20230101T120000Z"}`

	tasks, err := NewClient("").ParseTasks(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "two", tasks[1].Description)
	assert.Equal(t, 2023, tasks[1].End.Year())
}

func TestGetTasks(t *testing.T) {
	run := &fakeRunner{output: map[string]string{"status:pending": exportJSON}}
	tasks, err := NewClientWithRunner(run).GetTasks(context.Background(), []string{"status:pending"})
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Equal(t, []string{"status:pending", "export", "rc.hooks=0"}, run.calls[0])
	task := tasks[0]
	assert.Equal(t, "Buy milk", task.Description)
	assert.Len(t, task.Annotations, 1)
	expectedDue, _ := time.Parse(time.RFC3339, "2023-01-01T12:00:00Z")
	assert.True(t, task.Due.Time.Equal(expectedDue))
}

func TestGetTasks_Error(t *testing.T) {
	run := &fakeRunner{err: errors.New("exit 2")}
	_, err := NewClientWithRunner(run).GetTasks(context.Background(), nil)
	assert.Error(t, err)
}

func TestToPending(t *testing.T) {
	run := &fakeRunner{output: map[string]string{"status:pending": exportJSON}}
	tasks, err := NewClientWithRunner(run).GetTasks(context.Background(), []string{"status:pending"})
	require.NoError(t, err)

	p := ToPending(tasks[0])
	assert.Equal(t, "f45a05b3-c12e-42e5-9c9c-333333333333", p.NaturalKey)
	assert.Equal(t, "Buy milk", p.Title)
	assert.Equal(t, "todo", p.Status)
	assert.Equal(t, []string{"buy", "food"}, p.Areas)
	require.NotNil(t, p.DoDate)
	require.NotNil(t, p.DueDate)
	assert.NotEmpty(t, p.Data)

	done := ToPending(tasks[1])
	assert.True(t, done.Done)
	assert.Equal(t, "done", done.Status)
	assert.Nil(t, done.DueDate)
}

func TestAdapter_Refresh(t *testing.T) {
	run := &fakeRunner{output: map[string]string{"status:pending": exportJSON}}
	a := NewAdapter(NewClientWithRunner(run), "status:pending", nil)

	records, err := a.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, SourceID, a.ID())
	assert.NotNil(t, a.Reconciler())
}

func TestProvider_ReadFields(t *testing.T) {
	uuid := "f45a05b3-c12e-42e5-9c9c-333333333333"
	run := &fakeRunner{output: map[string]string{"uuid:" + uuid: exportJSON}}
	p := NewProvider(NewClientWithRunner(run), staticKeys{"t1": uuid})

	view, err := p.ReadFields(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "Buy milk", view.Title)
	assert.Equal(t, 2022, view.ModifiedAt.Year())
	assert.False(t, view.Mask().Has(model.FieldCategory))
	assert.True(t, view.Mask().Has(model.FieldPriority))

	missing, err := p.ReadFields(context.Background(), "t2")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProvider_WriteFields(t *testing.T) {
	uuid := "f45a05b3-c12e-42e5-9c9c-333333333333"
	run := &fakeRunner{output: map[string]string{"uuid:" + uuid: exportJSON}}
	p := NewProvider(NewClientWithRunner(run), staticKeys{"t1": uuid})

	err := p.WriteFields(context.Background(), "t1", model.FieldView{Fields: model.Fields{Title: "Buy oat milk", Done: true}})
	require.NoError(t, err)

	require.True(t, run.ran("modify"))
	assert.Contains(t, run.calls[0], "description:Buy oat milk")
	assert.True(t, run.ran("done"))

	assert.Error(t, p.WriteFields(context.Background(), "t2", model.FieldView{}))
}
