package ws

import (
	"context"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/rtguard/pkg/logger"
)

// MetaAutoJoin 元数据中该键为 true 的房间，会被同命名空间的每个新连接自动加入
const MetaAutoJoin = "auto_join"

// CategoryPersonal 个人房间的分类
const CategoryPersonal = "personal"

// PersonalRoomID 个人房间 ID，默认命名空间为 user:<id>，其他命名空间带上前缀
func PersonalRoomID(namespace string, principalID int64) string {
	id := "user:" + strconv.FormatInt(principalID, 10)
	if namespace == "" {
		return id
	}
	return namespace + ":" + id
}

// Room 房间，只属于一个命名空间
type Room struct {
	ID        string
	Namespace string

	mu       sync.RWMutex
	category string
	ownerID  int64
	metadata map[string]any

	clients    sync.Map // clientID -> *Client
	count      atomic.Int32
	lastActive atomic.Int64 // unix nano
}

// Category 分类
func (r *Room) Category() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.category
}

// OwnerID 创建者
func (r *Room) OwnerID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownerID
}

// Metadata 元数据副本
func (r *Room) Metadata() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.metadata)
}

// Size 当前成员数
func (r *Room) Size() int {
	return int(r.count.Load())
}

func (r *Room) autoJoin() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, _ := r.metadata[MetaAutoJoin].(bool)
	return v
}

func (r *Room) touch(now time.Time) {
	r.lastActive.Store(now.UnixNano())
}

func (r *Room) members() []*Client {
	out := make([]*Client, 0, max(r.Size(), 0))
	r.clients.Range(func(_, value any) bool {
		if c, ok := value.(*Client); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

// RoomManager 房间管理器
type RoomManager struct {
	rooms  sync.Map // roomID -> *Room
	config RoomConfig
	log    logger.Logger
	now    func() time.Time
}

// NewRoomManager 创建房间管理器
func NewRoomManager(config RoomConfig, log logger.Logger) *RoomManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &RoomManager{
		config: config,
		log:    log,
		now:    time.Now,
	}
}

// CreateRoom 按 roomID 幂等
// 已存在时覆盖分类、所有者和元数据，成员不变；命名空间不同则拒绝
func (rm *RoomManager) CreateRoom(roomID, namespace, category string, ownerID int64, metadata map[string]any) (*Room, error) {
	room := &Room{
		ID:        roomID,
		Namespace: namespace,
		category:  category,
		ownerID:   ownerID,
		metadata:  maps.Clone(metadata),
	}
	room.touch(rm.now())

	value, loaded := rm.rooms.LoadOrStore(roomID, room)
	if !loaded {
		rm.log.Debug("room created",
			zap.String("room", roomID),
			zap.String("namespace", namespace),
			zap.String("category", category),
		)
		return room, nil
	}

	existing := value.(*Room)
	if existing.Namespace != namespace {
		return nil, ErrRoomNamespaceMismatch
	}
	existing.mu.Lock()
	existing.category = category
	existing.ownerID = ownerID
	existing.metadata = maps.Clone(metadata)
	existing.mu.Unlock()
	existing.touch(rm.now())
	return existing, nil
}

// ensureRoom 不存在时创建，已存在时不修改
func (rm *RoomManager) ensureRoom(roomID, namespace, category string, ownerID int64) (*Room, error) {
	room := &Room{
		ID:        roomID,
		Namespace: namespace,
		category:  category,
		ownerID:   ownerID,
	}
	room.touch(rm.now())
	value, _ := rm.rooms.LoadOrStore(roomID, room)
	existing := value.(*Room)
	if existing.Namespace != namespace {
		return nil, ErrRoomNamespaceMismatch
	}
	return existing, nil
}

// GetRoom 获取房间
func (rm *RoomManager) GetRoom(roomID string) (*Room, bool) {
	value, ok := rm.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	return value.(*Room), true
}

// DeleteRoom 删除房间并移出所有成员
func (rm *RoomManager) DeleteRoom(roomID string) {
	value, ok := rm.rooms.LoadAndDelete(roomID)
	if !ok {
		return
	}
	room := value.(*Room)
	for _, c := range room.members() {
		c.rooms.Delete(roomID)
	}
}

// JoinRoom 加入房间，房间必须存在且与连接属于同一命名空间
func (rm *RoomManager) JoinRoom(client *Client, roomID string) error {
	room, ok := rm.GetRoom(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	return rm.join(client, room)
}

func (rm *RoomManager) join(client *Client, room *Room) error {
	if room.Namespace != client.Namespace() {
		return ErrRoomNamespaceMismatch
	}

	if n := room.count.Add(1); int(n) > rm.config.MaxRoomSize {
		room.count.Add(-1)
		return ErrRoomFull
	}
	if _, loaded := room.clients.LoadOrStore(client.ID, client); loaded {
		room.count.Add(-1)
		return ErrAlreadyInRoom
	}
	client.rooms.Store(room.ID, true)
	room.touch(rm.now())
	return nil
}

// LeaveRoom 离开房间
func (rm *RoomManager) LeaveRoom(client *Client, roomID string) {
	room, ok := rm.GetRoom(roomID)
	if !ok {
		return
	}
	if _, loaded := room.clients.LoadAndDelete(client.ID); loaded {
		room.count.Add(-1)
		client.rooms.Delete(roomID)
		room.touch(rm.now())
	}
}

// autoJoinRooms 命名空间内所有 auto_join 房间
func (rm *RoomManager) autoJoinRooms(namespace string) []*Room {
	var out []*Room
	rm.rooms.Range(func(_, value any) bool {
		room := value.(*Room)
		if room.Namespace == namespace && room.autoJoin() {
			out = append(out, room)
		}
		return true
	})
	return out
}

// BroadcastToRoom 向房间成员发送已编码的消息，exclude 可为 nil
// 发送失败的数量通过返回值交给调用方
func (rm *RoomManager) BroadcastToRoom(ctx context.Context, roomID string, msg []byte, exclude *Client) (dropped int, err error) {
	room, ok := rm.GetRoom(roomID)
	if !ok {
		return 0, ErrRoomNotFound
	}

	clients := room.members()
	if exclude != nil {
		for i, c := range clients {
			if c.ID == exclude.ID {
				clients = append(clients[:i], clients[i+1:]...)
				break
			}
		}
	}
	if len(clients) == 0 {
		return 0, nil
	}

	const maxWorkers = 100
	jobs := make(chan *Client, len(clients))
	for _, c := range clients {
		jobs <- c
	}
	close(jobs)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for i := 0; i < min(maxWorkers, len(clients)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case c, ok := <-jobs:
					if !ok {
						return
					}
					if c.SendBytes(msg) != nil {
						failed.Add(1)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return int(failed.Load()), nil
	case <-ctx.Done():
		return int(failed.Load()), ErrBroadcastTimeout
	}
}

// RunCleanup 周期清理空房间
func (rm *RoomManager) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(rm.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rm.cleanupEmptyRooms(); n > 0 {
				rm.log.Debug("empty rooms removed", zap.Int("count", n))
			}
		}
	}
}

// cleanupEmptyRooms auto_join 房间是显式创建的常驻房间，不清理
func (rm *RoomManager) cleanupEmptyRooms() int {
	cutoff := rm.now().Add(-rm.config.EmptyRoomTTL).UnixNano()
	removed := 0
	rm.rooms.Range(func(key, value any) bool {
		room := value.(*Room)
		if room.count.Load() == 0 && room.lastActive.Load() < cutoff && !room.autoJoin() {
			if rm.rooms.CompareAndDelete(key, value) {
				removed++
			}
		}
		return true
	})
	return removed
}

// Count 房间数量
func (rm *RoomManager) Count() int {
	n := 0
	rm.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Members 房间成员
func (rm *RoomManager) Members(roomID string) []*Client {
	room, ok := rm.GetRoom(roomID)
	if !ok {
		return nil
	}
	return room.members()
}
