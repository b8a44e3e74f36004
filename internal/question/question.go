package question

import (
	"fmt"
	"math/rand/v2"
	"strconv"
)

// Category 题目类别
type Category int

const (
	Addition Category = iota
	Subtraction
	Multiplication
	Division
	LCM
	GCD
	HighestPrimeFactor
	SquareRoot
	CubeRoot

	categoryCount = int(CubeRoot) + 1
)

var categoryNames = [...]string{
	Addition:           "addition",
	Subtraction:        "subtraction",
	Multiplication:     "multiplication",
	Division:           "division",
	LCM:                "lcm",
	GCD:                "gcd",
	HighestPrimeFactor: "highest_prime_factor",
	SquareRoot:         "square_root",
	CubeRoot:           "cube_root",
}

func (c Category) String() string {
	if c < 0 || int(c) >= categoryCount {
		return "category(" + strconv.Itoa(int(c)) + ")"
	}
	return categoryNames[c]
}

// MarshalText 序列化为类别名
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Question 只存在于客户端内存中的题目
type Question struct {
	Prompt   string   `json:"prompt"`
	Answer   int      `json:"answer"`
	Category Category `json:"category"`
}

// Check 判断作答是否正确
func (q Question) Check(answer int) bool {
	return q.Answer == answer
}

// Generator 按种子生成无限题目序列。
// 每展示一道题调用一次 Next，所有客户端调用次数和顺序一致即可得到相同题目。
type Generator struct {
	rng   mulberry32
	index int
}

// New 创建带种子的生成器（房间比赛使用）
func New(seed uint32) *Generator {
	return &Generator{rng: mulberry32{state: seed}}
}

// NewUnseeded 单人模式使用，不可复现
func NewUnseeded() *Generator {
	return New(rand.Uint32())
}

// At 返回种子 seed 下第 i 道题（从 0 开始）
func At(seed uint32, i int) Question {
	g := New(seed)
	for ; i > 0; i-- {
		g.Next()
	}
	return g.Next()
}

// Index 已生成的题目数
func (g *Generator) Index() int {
	return g.index
}

// Next 生成下一道题
func (g *Generator) Next() Question {
	g.index++
	r := &g.rng

	switch c := Category(r.intn(categoryCount)); c {
	case Addition:
		a, b := r.between(1, 99), r.between(1, 99)
		return Question{Prompt: fmt.Sprintf("%d + %d", a, b), Answer: a + b, Category: c}

	case Subtraction:
		a, b := r.between(1, 99), r.between(1, 99)
		if b > a {
			a, b = b, a
		}
		return Question{Prompt: fmt.Sprintf("%d - %d", a, b), Answer: a - b, Category: c}

	case Multiplication:
		a, b := r.between(2, 12), r.between(2, 12)
		return Question{Prompt: fmt.Sprintf("%d × %d", a, b), Answer: a * b, Category: c}

	case Division:
		divisor, quotient := r.between(2, 12), r.between(2, 12)
		return Question{Prompt: fmt.Sprintf("%d ÷ %d", divisor*quotient, divisor), Answer: quotient, Category: c}

	case LCM:
		a, b := r.between(2, 15), r.between(2, 15)
		return Question{Prompt: fmt.Sprintf("LCM(%d, %d)", a, b), Answer: lcm(a, b), Category: c}

	case GCD:
		g := r.between(2, 10)
		a, b := g*r.between(1, 10), g*r.between(1, 10)
		return Question{Prompt: fmt.Sprintf("GCD(%d, %d)", a, b), Answer: gcd(a, b), Category: c}

	case HighestPrimeFactor:
		n := r.between(2, 200)
		return Question{Prompt: fmt.Sprintf("Highest prime factor of %d", n), Answer: highestPrimeFactor(n), Category: c}

	case SquareRoot:
		x := r.between(2, 20)
		if r.intn(2) == 0 {
			return Question{Prompt: fmt.Sprintf("%d²", x), Answer: x * x, Category: c}
		}
		return Question{Prompt: fmt.Sprintf("√%d", x*x), Answer: x, Category: c}

	default: // CubeRoot
		x := r.between(2, 10)
		if r.intn(2) == 0 {
			return Question{Prompt: fmt.Sprintf("%d³", x), Answer: x * x * x, Category: c}
		}
		return Question{Prompt: fmt.Sprintf("∛%d", x*x*x), Answer: x, Category: c}
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

// highestPrimeFactor n >= 2
func highestPrimeFactor(n int) int {
	largest := 1
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			largest = p
			n /= p
		}
	}
	if n > 1 {
		largest = n
	}
	return largest
}
