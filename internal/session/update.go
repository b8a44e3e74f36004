package session

import (
	"time"

	"sudooom.mathrush/internal/question"
	"sudooom.mathrush/internal/ranking"
	"sudooom.mathrush/shared/model"
)

// UpdateKind 界面更新类型
type UpdateKind string

const (
	UpdateRoster   UpdateKind = "roster"
	UpdateStarted  UpdateKind = "started"
	UpdateQuestion UpdateKind = "question"
	UpdateAnswered UpdateKind = "answered"
	UpdateTick     UpdateKind = "tick"
	UpdateFinished UpdateKind = "finished"
	UpdateResults  UpdateKind = "results"
	UpdateClosed   UpdateKind = "closed"
)

// Update 一次界面更新，tick 在消费方过慢时会被丢弃
type Update struct {
	Kind      UpdateKind         `json:"kind"`
	Room      *model.Room        `json:"room,omitempty"`
	Players   []model.Player     `json:"players,omitempty"`
	Question  *question.Question `json:"question,omitempty"`
	Index     int                `json:"index,omitempty"`
	Correct   bool               `json:"correct,omitempty"`
	Progress  model.Progress     `json:"progress"`
	Remaining time.Duration      `json:"remaining,omitempty"`
	Standings *ranking.Standings `json:"standings,omitempty"`
}
