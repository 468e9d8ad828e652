package webio

import (
	"sort"
	"sync"
)

// TaskEntry is a named task entry point.
type TaskEntry struct {
	Name    string
	Factory Factory
	// Cooperative tasks need the process event loop running before the
	// broker accepts polling requests.
	Cooperative bool
}

var (
	tasksMu sync.RWMutex
	tasks   = make(map[string]TaskEntry)
)

// RegisterTask makes a task available by name, typically from an init
// function.
func RegisterTask(entry TaskEntry) error {
	tasksMu.Lock()
	defer tasksMu.Unlock()
	if _, exists := tasks[entry.Name]; exists {
		return ErrTaskExists.Msg("task already registered: " + entry.Name)
	}
	tasks[entry.Name] = entry
	return nil
}

// LookupTask returns the task registered under name.
func LookupTask(name string) (TaskEntry, error) {
	tasksMu.RLock()
	defer tasksMu.RUnlock()
	entry, ok := tasks[name]
	if !ok {
		return TaskEntry{}, ErrUnknownTask.Msg("unknown task: " + name)
	}
	return entry, nil
}

// TaskNames lists the registered task names in order.
func TaskNames() []string {
	tasksMu.RLock()
	defer tasksMu.RUnlock()
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
