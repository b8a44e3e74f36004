// Package ranking 比赛结束后的本地排名
package ranking

import (
	"sort"

	"sudooom.mathrush/shared/model"
)

// Entry 排名条目
type Entry struct {
	Rank        int     `json:"rank"`
	UID         string  `json:"uid"`
	DisplayName string  `json:"display_name"`
	Score       int     `json:"score"`
	Accuracy    float64 `json:"accuracy"`
	Attempts    int     `json:"attempts"`
	Correct     int     `json:"correct"`
	Finished    bool    `json:"finished"`
}

// Standings 排名结果
type Standings struct {
	Entries     []Entry  `json:"entries"`
	Winner      *Entry   `json:"winner"`       // 排名第一的玩家，无人时为 nil
	TopAccuracy []string `json:"top_accuracy"` // 准确率最高的玩家（可能并列）
}

// less 总序：分数降序、准确率降序、昵称升序、UID 升序
func less(a, b model.Player) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Accuracy != b.Accuracy {
		return a.Accuracy > b.Accuracy
	}
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.UID < b.UID
}

// Compute 计算排名，不修改入参。
// 分数与准确率都相同的玩家并列（1, 2, 2, 4）。
func Compute(players []model.Player) Standings {
	sorted := make([]model.Player, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	st := Standings{Entries: make([]Entry, 0, len(sorted)), TopAccuracy: []string{}}
	for i, p := range sorted {
		rank := i + 1
		if i > 0 {
			prev := sorted[i-1]
			if prev.Score == p.Score && prev.Accuracy == p.Accuracy {
				rank = st.Entries[i-1].Rank
			}
		}
		st.Entries = append(st.Entries, Entry{
			Rank:        rank,
			UID:         p.UID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Accuracy:    p.Accuracy,
			Attempts:    p.Attempts,
			Correct:     p.Correct,
			Finished:    p.IsFinished(),
		})
	}

	if len(st.Entries) == 0 {
		return st
	}
	winner := st.Entries[0]
	st.Winner = &winner

	best := st.Entries[0].Accuracy
	for _, e := range st.Entries {
		if e.Accuracy > best {
			best = e.Accuracy
		}
	}
	for _, e := range st.Entries {
		if e.Accuracy == best {
			st.TopAccuracy = append(st.TopAccuracy, e.UID)
		}
	}
	return st
}

// RankOf 查询玩家名次，不存在时返回 0
func (s Standings) RankOf(uid string) int {
	for _, e := range s.Entries {
		if e.UID == uid {
			return e.Rank
		}
	}
	return 0
}
