// Package session 持有单个用户会话的内存状态：当前摘录、追加式对话历史与最近一次问答。
// 会话内的 ask 由单写者锁串行化；读取方总是拿到副本。
package session

import (
	"context"
	"sync"
	"time"

	"aiinsight/pkg/contract"
)

// Exchange: 最近一次成功的问答（原始回答 + 抽取结果）。
type Exchange struct {
	Question   string
	Answer     contract.Answer
	Extraction contract.Extraction
	At         time.Time
}

// Session: 单会话状态。零值不可用，使用 New。
type Session struct {
	ID      string
	Created time.Time

	// turn 为单写者信号量：同一会话的 Ask/Summarize 串行执行。
	turn chan struct{}

	mu      sync.RWMutex
	excerpt contract.Excerpt
	history []contract.Turn
	last    *Exchange
	touched time.Time
}

// New 创建空会话。
func New(id string) *Session {
	now := time.Now()
	return &Session{ID: id, Created: now, touched: now, turn: make(chan struct{}, 1)}
}

// Acquire 获取会话写权；ctx 取消时返回 ctx.Err()。调用方须调用返回的 release。
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-s.turn }) }, nil
}

// Excerpt 返回当前摘录（可能为空）。
func (s *Session) Excerpt() contract.Excerpt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex := s.excerpt
	ex.Columns = append([]string(nil), s.excerpt.Columns...)
	return ex
}

// SetExcerpt 替换摘录；历史保留，最近一次问答清空（其载荷属于旧内容）。
func (s *Session) SetExcerpt(ex contract.Excerpt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excerpt = ex
	s.last = nil
	s.touched = time.Now()
}

// History 返回历史副本（按时间顺序）。
func (s *Session) History() []contract.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contract.Turn(nil), s.history...)
}

// Len 返回历史条数。
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Commit 原子追加一问一答（user 在前，assistant 在后）并记录最近一次问答。
// assistant 轮记录原始回答全文。
func (s *Session) Commit(question string, a contract.Answer, ext contract.Extraction) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		contract.Turn{Role: contract.RoleUser, Text: question},
		contract.Turn{Role: contract.RoleAssistant, Text: a.Text},
	)
	s.last = &Exchange{Question: question, Answer: a, Extraction: ext, At: now}
	s.touched = now
}

// Last 返回最近一次问答。
func (s *Session) Last() (Exchange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Exchange{}, false
	}
	return *s.last, true
}

// Touched 返回最后一次修改时间。
func (s *Session) Touched() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched
}

// Reset 清空摘录与历史。
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excerpt = contract.Excerpt{}
	s.history = nil
	s.last = nil
	s.touched = time.Now()
}
