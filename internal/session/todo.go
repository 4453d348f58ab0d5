package session

import "github.com/chatpanel-ai/chatpanel/pkg/types"

// SetTodos replaces the turn-scoped todo list and marks the turn as having
// touched todos. An empty list clears it.
func (s *Store) SetTodos(todos []types.TodoInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(todos) == 0 {
		s.todos = nil
	} else {
		s.todos = append([]types.TodoInfo(nil), todos...)
	}
	s.todosTouched = true
}

// Todos returns a copy of the current todo list.
func (s *Store) Todos() []types.TodoInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TodoInfo(nil), s.todos...)
}

// BeginTurn resets the todos-touched flag and clears the previous turn's
// todos. Called when processing turns on.
func (s *Store) BeginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = nil
	s.todosTouched = false
}

// EndTurn clears the todo list only if no TodoWrite ran during the turn.
// Returns true when the list was cleared.
func (s *Store) EndTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.todosTouched {
		return false
	}
	s.todos = nil
	return true
}

// TodosTouched reports whether a TodoWrite ran during the current turn.
func (s *Store) TodosTouched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todosTouched
}
