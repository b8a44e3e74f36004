package question

// mulberry32 32 位计数器 + 混合函数，每次抽取推进一次。
// 所有客户端使用同一种子时序列逐位一致。
type mulberry32 struct {
	state uint32
}

func (m *mulberry32) next() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// intn 返回 [0, n)，乘法移位映射，无拒绝采样
func (m *mulberry32) intn(n int) int {
	return int(uint64(m.next()) * uint64(n) >> 32)
}

// between 返回 [lo, hi]
func (m *mulberry32) between(lo, hi int) int {
	return lo + m.intn(hi-lo+1)
}
