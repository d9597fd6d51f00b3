package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/client"
	apihttp "github.com/fyrsmithlabs/canopy/internal/http"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

type fakeReplica struct {
	root    *tree.Node
	resyncs int
	err     error
}

func (f *fakeReplica) Session() uint64 { return 7 }
func (f *fakeReplica) Hash() uint64    { return f.root.Hash() }
func (f *fakeReplica) View() tree.View { return f.root.Snapshot() }

func (f *fakeReplica) Resync() error {
	f.resyncs++
	return f.err
}

type fakeStatus struct {
	resp apihttp.StatusResponse
	err  error
}

func (f fakeStatus) Status(context.Context) (apihttp.StatusResponse, error) {
	return f.resp, f.err
}

func newTestModel() (Model, *fakeReplica, chan client.Update) {
	r := &fakeReplica{root: tree.New(tree.Config{
		Name:     tree.Name("root"),
		Children: []*tree.Node{tree.New(tree.Config{Name: tree.Name("bell"), Data: tree.Button{}})},
	})}
	updates := make(chan client.Update, 4)
	api := fakeStatus{resp: apihttp.StatusResponse{Status: "ok", Version: "1.2.3", Clients: 3, Nodes: 2, Uptime: "1m0s"}}
	return NewModel(r, api, updates, time.Second), r, updates
}

func TestModel_Init(t *testing.T) {
	model, _, _ := newTestModel()
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model, _, _ := newTestModel()

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model, _, _ := newTestModel()

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	require.NotNil(t, cmd)

	msg := cmd()
	status, ok := msg.(statusMsg)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", status.Version)
}

func TestModel_Update_ResyncKey(t *testing.T) {
	model, r, _ := newTestModel()

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	assert.Equal(t, 1, r.resyncs)

	r.err = fmt.Errorf("connection reset")
	msg := cmd()
	assert.EqualError(t, msg.(errMsg), "connection reset")
}

func TestModel_Update_Changes(t *testing.T) {
	model, _, updates := newTestModel()
	id := uuid.New()

	updated, cmd := model.Update(updateMsg(client.Update{Kind: client.UpdateChange, Change: change.NodeRemoved{ID: id}}))
	m := updated.(Model)
	assert.Equal(t, 1, m.changes)
	assert.Equal(t, []string{"remove " + id.String()}, m.events)

	// the returned command waits for the next update
	require.NotNil(t, cmd)
	updates <- client.Update{Kind: client.UpdateLog, Text: "hello"}
	next := cmd()
	assert.Equal(t, updateMsg(client.Update{Kind: client.UpdateLog, Text: "hello"}), next)

	updated, _ = m.Update(next)
	m = updated.(Model)
	assert.Equal(t, 1, m.changes)
	assert.Len(t, m.events, 2)

	close(updates)
	_, cmd = m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.Equal(t, closedMsg{}, waitForUpdate(updates)())
}

func TestModel_Update_EventsAreCapped(t *testing.T) {
	model, _, _ := newTestModel()
	var m tea.Model = model
	for i := 0; i < maxEvents+3; i++ {
		m, _ = m.Update(updateMsg(client.Update{Kind: client.UpdateLog, Text: fmt.Sprintf("line %d", i)}))
	}
	events := m.(Model).events
	require.Len(t, events, maxEvents)
	assert.Equal(t, fmt.Sprintf("server: line %d", maxEvents+2), events[maxEvents-1])
}

func TestModel_Update_TickRollsHistory(t *testing.T) {
	model, _, _ := newTestModel()
	model.changes = 4

	updated, cmd := model.Update(tickMsg(time.Now()))
	m := updated.(Model)
	assert.NotNil(t, cmd)
	assert.Equal(t, 0, m.changes)
	assert.Equal(t, []float64{4}, m.rateHistory)
	assert.Equal(t, 4.0, m.ratePeak)

	for i := 0; i < historySize+5; i++ {
		updated, _ = m.Update(tickMsg(time.Now()))
		m = updated.(Model)
	}
	assert.Len(t, m.rateHistory, historySize)
	assert.Equal(t, 4.0, m.ratePeak)
}

func TestModel_Update_StatusAndErrors(t *testing.T) {
	model, _, _ := newTestModel()

	updated, _ := model.Update(errMsg(fmt.Errorf("connection refused")))
	m := updated.(Model)
	require.Error(t, m.err)

	updated, cmd := m.Update(statusMsg(apihttp.StatusResponse{Status: "ok", Nodes: 2}))
	m = updated.(Model)
	assert.Nil(t, cmd)
	assert.NoError(t, m.err)
	assert.True(t, m.hasStatus)
	assert.False(t, m.lastUpdate.IsZero())

	updated, _ = m.Update(closedMsg{})
	m = updated.(Model)
	assert.ErrorIs(t, m.err, ErrDisconnected)

	// a later status poll does not hide the disconnect
	updated, _ = m.Update(statusMsg(apihttp.StatusResponse{Status: "ok"}))
	assert.ErrorIs(t, updated.(Model).err, ErrDisconnected)
}

func TestModel_View(t *testing.T) {
	model, _, _ := newTestModel()
	model.status = apihttp.StatusResponse{Status: "ok", Version: "1.2.3", Clients: 3, Nodes: 2, Uptime: "1m0s"}
	model.hasStatus = true
	model.lastUpdate = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)
	model.rateHistory = []float64{1, 3, 2}
	model.events = []string{"server: button pressed (1)"}

	view := model.View()

	assert.Contains(t, view, "canopy Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "LIVE")
	assert.Contains(t, view, "1.2.3")
	assert.Contains(t, view, "2.0 changes/s")
	assert.Contains(t, view, "bell button(0)")
	assert.Contains(t, view, "button pressed (1)")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[s]")
}

func TestModel_View_NoData(t *testing.T) {
	model, _, _ := newTestModel()
	model.err = ErrDisconnected

	view := model.View()

	assert.Contains(t, view, "canopy Monitor")
	assert.Contains(t, view, "ERROR")
	assert.Contains(t, view, "disconnected from server")
	assert.Contains(t, view, "no data")
	assert.Contains(t, view, "waiting for changes")
	assert.NotContains(t, view, "Clients:")
}
