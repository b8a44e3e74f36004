package nats

// NATS Subject 常量定义
const (
	// SubjectRoomEventsPrefix 房间生命周期事件前缀
	// 完整格式: mathrush.room.{code}.events
	SubjectRoomEventsPrefix = "mathrush.room."
	SubjectRoomEventsSuffix = ".events"

	// SubjectAllRoomEvents 订阅全部房间事件
	SubjectAllRoomEvents = "mathrush.room.*.events"
)

// BuildRoomEventsSubject 构建房间事件 Subject
func BuildRoomEventsSubject(code string) string {
	return SubjectRoomEventsPrefix + code + SubjectRoomEventsSuffix
}
