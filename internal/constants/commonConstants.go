package constants

type (
	APIStatus   string
	CachePrefix string
	Collection  string
)

const (
	APIStatusOk    APIStatus = "ok"
	APIStatusError APIStatus = "error"

	CachePrefixRoleCache   CachePrefix = "role_cache:"
	CachePrefixRoleUser    CachePrefix = "role_cache:user:"
	CachePrefixRolePreload CachePrefix = "role_cache:preload:"
	CachePrefixRoleCookie  CachePrefix = "cr_role_"

	CollectionUsers         Collection = "users"
	CollectionCalls         Collection = "calls"
	CollectionNotifications Collection = "notifications"
	CollectionChatRooms     Collection = "chatRooms"
)

// RoomMessagesCollection is the message log collection of a chat room.
func RoomMessagesCollection(roomID string) string {
	return string(CollectionChatRooms) + "/" + roomID + "/messages"
}
