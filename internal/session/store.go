package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store: 进程内会话表（不落盘）。
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newID    func() string
}

// NewStore 创建空会话表，ID 为随机 UUID。
func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}, newID: uuid.NewString}
}

// Create 新建并登记会话。
func (st *Store) Create() *Session {
	s := New(st.newID())
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get 按 ID 查找会话。
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete 移除会话；返回是否存在。
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// Len 返回会话数。
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Expire 移除 idle 之前未被修改的会话，返回移除数量。
func (st *Store) Expire(now time.Time, idle time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if now.Sub(s.Touched()) > idle {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}
