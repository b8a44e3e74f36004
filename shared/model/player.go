package model

import (
	"math"
	"time"
)

// Identity 身份提供方给出的当前用户
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
}

// Player 房间内的玩家子文档，以 UID 为键
type Player struct {
	UID         string     `json:"uid"`
	DisplayName string     `json:"display_name"`
	IsHost      bool       `json:"is_host"`
	JoinedAt    time.Time  `json:"joined_at"` // 服务器时间，决定加入顺序
	Score       int        `json:"score"`
	Attempts    int        `json:"attempts"`
	Correct     int        `json:"correct"`
	Accuracy    float64    `json:"accuracy"`    // correct/attempts 百分比
	FinishedAt  *time.Time `json:"finished_at"` // 个人完成时间，只写一次
}

// Progress 玩家自报的成绩快照
type Progress struct {
	Score    int `json:"score"`
	Attempts int `json:"attempts"`
	Correct  int `json:"correct"`
}

// Progress 当前成绩快照
func (p *Player) Progress() Progress {
	return Progress{Score: p.Score, Attempts: p.Attempts, Correct: p.Correct}
}

// ApplyProgress 写入成绩并重新计算准确率
func (p *Player) ApplyProgress(pr Progress) {
	p.Score = pr.Score
	p.Attempts = pr.Attempts
	p.Correct = pr.Correct
	p.Accuracy = Accuracy(pr.Correct, pr.Attempts)
}

// IsFinished 是否已经完成个人比赛
func (p *Player) IsFinished() bool {
	return p.FinishedAt != nil
}

// Clone 深拷贝
func (p Player) Clone() Player {
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		p.FinishedAt = &t
	}
	return p
}

// Accuracy 百分比，保留两位小数；没有作答时为 0
func Accuracy(correct, attempts int) float64 {
	if attempts <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(attempts)*10000) / 100
}
