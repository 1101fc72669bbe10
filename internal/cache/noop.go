package cache

import "context"

// NoCacher 在禁用缓存时使用：Fetch 永远未命中，Put 永远什么也不做。
type NoCacher struct{}

// NewNoCacher 返回一个空实现。
func NewNoCacher() NoCacher {
	return NoCacher{}
}

// Fetch 永远返回 Miss，不触碰 target。
func (NoCacher) Fetch(context.Context, string, string) (Result, error) {
	return Miss, nil
}

// Put 丢弃写入。
func (NoCacher) Put(context.Context, string, string) error {
	return nil
}
