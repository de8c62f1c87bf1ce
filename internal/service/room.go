package service

import (
	"fmt"
	"strconv"
	"strings"
)

type RoomKind uint8

const (
	RoomPersonal RoomKind = iota + 1
	RoomStaffPool
)

// Room 广播目标：某个用户的个人房间，或全体客服共享的房间
type Room struct {
	Kind   RoomKind
	UserID uint
}

func PersonalRoom(userID uint) Room {
	return Room{Kind: RoomPersonal, UserID: userID}
}

func StaffPoolRoom() Room {
	return Room{Kind: RoomStaffPool}
}

const (
	personalKeyPrefix = "user:"
	staffPoolKey      = "staff_pool"
)

// Key 仅用于跨实例总线上的序列化
func (r Room) Key() string {
	switch r.Kind {
	case RoomPersonal:
		return personalKeyPrefix + strconv.FormatUint(uint64(r.UserID), 10)
	case RoomStaffPool:
		return staffPoolKey
	}
	return ""
}

func (r Room) String() string {
	return r.Key()
}

func ParseRoomKey(key string) (Room, error) {
	if key == staffPoolKey {
		return StaffPoolRoom(), nil
	}
	if rest, ok := strings.CutPrefix(key, personalKeyPrefix); ok {
		id, err := strconv.ParseUint(rest, 10, 64)
		if err == nil && id > 0 {
			return PersonalRoom(uint(id)), nil
		}
	}
	return Room{}, fmt.Errorf("invalid room key %q", key)
}
