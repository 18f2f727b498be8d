package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pthm/statesync"
)

//go:generate go run github.com/pthm/statesync/cmd/statesync generate .

// Todo is the state of the todo app.
//
//statesync:state
type Todo struct {
	Title string          `state:"title"`
	Draft string          `state:"draft"`
	Items []string        `state:"items"`
	Done  map[string]bool `state:"done"`
	Stats Stats           `state:"stats"`
}

// Stats summarises the list.
//
//statesync:state
type Stats struct {
	Total int `state:"total"`
	Open  int `state:"open"`
}

func initialState() (*statesync.RootState, error) {
	return statesync.NewRootState(TodoSchema, map[string]any{
		"title": "Things to do",
		"draft": "",
		"items": []string{"Buy groceries", "Review PR"},
		"done":  map[string]bool{},
		"stats": map[string]any{"total": 2, "open": 2},
	})
}

func registerHandlers(app *statesync.App) {
	app.Handlers.MustRegister("addItem", addItem)
	app.Handlers.MustRegister("toggleItem", toggleItem)
	app.Handlers.MustRegister("clearDone", clearDone)
}

func addItem(state *statesync.RootState) error {
	todo := TodoStateOf(state)
	draft := strings.TrimSpace(todo.Draft())
	if draft == "" {
		state.AddNotification(statesync.NotifyWarning, "Nothing to add", "Type a todo first.")
		return nil
	}
	if slices.Contains(todo.Items(), draft) {
		state.AddNotification(statesync.NotifyInfo, "Already listed", fmt.Sprintf("%q is on the list.", draft))
		return nil
	}

	if err := todo.SetItems(append(slices.Clone(todo.Items()), draft)); err != nil {
		return err
	}
	if err := todo.SetDraft(""); err != nil {
		return err
	}
	return refreshStats(todo)
}

// toggleItem flips the item of the repeater instance the event came from.
func toggleItem(state *statesync.RootState, ctx statesync.EventContext) error {
	item, ok := ctx["item"].(string)
	if !ok {
		return fmt.Errorf("toggleItem: no item in context")
	}
	todo := TodoStateOf(state)
	done := cloneDone(todo.Done())
	done[item] = !done[item]
	if err := todo.SetDone(done); err != nil {
		return err
	}
	return refreshStats(todo)
}

func clearDone(state *statesync.RootState) error {
	todo := TodoStateOf(state)
	done := todo.Done()
	items := slices.DeleteFunc(slices.Clone(todo.Items()), func(item string) bool {
		return done[item]
	})
	if err := todo.SetItems(items); err != nil {
		return err
	}
	if err := todo.SetDone(map[string]bool{}); err != nil {
		return err
	}
	state.AddNotification(statesync.NotifySuccess, "Cleaned up", fmt.Sprintf("%d items left.", len(items)))
	return refreshStats(todo)
}

func refreshStats(todo TodoState) error {
	items := todo.Items()
	done := todo.Done()
	open := 0
	for _, item := range items {
		if !done[item] {
			open++
		}
	}
	stats := todo.Stats()
	if err := stats.SetTotal(len(items)); err != nil {
		return err
	}
	return stats.SetOpen(open)
}

func cloneDone(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
