package redis

import "time"

const (
	// RoomKeyPrefix 房间文档 Key 前缀（String，JSON）
	RoomKeyPrefix = "mathrush:room:"

	// RoomPlayersKeySuffix 房间玩家 Hash 后缀（field = uid，value = JSON）
	RoomPlayersKeySuffix = ":players"

	// RoomChannelPrefix 房间变更通知频道前缀
	RoomChannelPrefix = "mathrush:room-changed:"

	// RoomTTL 房间文档 TTL，每次写入后刷新
	RoomTTL = 48 * time.Hour
)

// BuildRoomKey 构建房间文档 Key
// Key: mathrush:room:{code}
func BuildRoomKey(code string) string {
	return RoomKeyPrefix + code
}

// BuildRoomPlayersKey 构建房间玩家 Hash Key
// Key: mathrush:room:{code}:players
func BuildRoomPlayersKey(code string) string {
	return RoomKeyPrefix + code + RoomPlayersKeySuffix
}

// BuildRoomChannel 构建房间变更通知频道
func BuildRoomChannel(code string) string {
	return RoomChannelPrefix + code
}
