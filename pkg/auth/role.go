package auth

import (
	"sort"
	"strings"
)

// Role 角色
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// AdminPermissionPrefix 管理类权限的前缀
const AdminPermissionPrefix = "admin:"

// 常用权限
const (
	PermChatRead       = "chat:read"
	PermChatWrite      = "chat:write"
	PermRoomsJoin      = "rooms:join"
	PermNotifications  = "notifications:read"
	PermAdminDashboard = "admin:dashboard"
	PermAdminUsers     = "admin:users"
	PermAdminRooms     = "admin:rooms"
	PermAdminBroadcast = "admin:broadcast"
	PermAdminAudit     = "admin:audit"
)

// rolePermissions 角色到权限的固定映射，不接受任何运行时输入
var rolePermissions = map[Role][]string{
	RoleAdmin: {
		PermChatRead, PermChatWrite, PermRoomsJoin, PermNotifications,
		PermAdminDashboard, PermAdminUsers, PermAdminRooms, PermAdminBroadcast, PermAdminAudit,
	},
	RoleUser: {
		PermChatRead, PermChatWrite, PermRoomsJoin, PermNotifications,
	},
}

// ParseRole 未知角色原样保留，它不会获得任何权限
func ParseRole(s string) Role {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoleUser
	}
	return Role(s)
}

// PermissionSet 权限集合
type PermissionSet map[string]struct{}

// PermissionsFor 由角色推导权限
// 非 admin 角色即使映射表配置错误也不会拿到 admin: 前缀的权限
func PermissionsFor(role Role) PermissionSet {
	perms := make(PermissionSet)
	for _, p := range rolePermissions[role] {
		if role != RoleAdmin && strings.HasPrefix(p, AdminPermissionPrefix) {
			continue
		}
		perms[p] = struct{}{}
	}
	return perms
}

// Has 是否包含权限
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// List 排序后的权限列表
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
