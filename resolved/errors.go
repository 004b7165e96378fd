package resolved

import "sync"

// Error is one failed background call recorded against a link.
type Error struct {
	Method  string
	Message string
}

func (e Error) String() string {
	return "[" + e.Method + "] " + e.Message
}

// ErrorStorage accumulates background call failures per link object
// path. It is shared between the dispatcher's worker and any caller
// draining errors, so every access takes the lock.
type ErrorStorage struct {
	mu     sync.Mutex
	errors map[string][]Error
}

// NewErrorStorage returns an empty store.
func NewErrorStorage() *ErrorStorage {
	return &ErrorStorage{errors: make(map[string][]Error)}
}

// Add appends one record under the given link path.
func (s *ErrorStorage) Add(link, method, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[link] = append(s.errors[link], Error{Method: method, Message: message})
}

// GetLinks returns the link paths currently holding records.
func (s *ErrorStorage) GetLinks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := make([]string, 0, len(s.errors))
	for link := range s.errors {
		links = append(links, link)
	}
	return links
}

// NumErrors returns the number of records held for link.
func (s *ErrorStorage) NumErrors(link string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors[link])
}

// GetErrors removes and returns all records held for link, oldest
// first. A link without records yields an empty list.
func (s *ErrorStorage) GetErrors(link string) []Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.errors[link]
	delete(s.errors, link)
	if recs == nil {
		recs = []Error{}
	}
	return recs
}
