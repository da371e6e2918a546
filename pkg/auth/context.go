package auth

import (
	"strings"
	"time"
)

// AdminNamespace 管理命名空间
const AdminNamespace = "admin"

// NormalizeNamespace 去掉首尾的 "/"，空串表示默认命名空间
func NormalizeNamespace(ns string) string {
	return strings.Trim(strings.TrimSpace(ns), "/")
}

// IsAdminNamespace 是否为管理命名空间
func IsAdminNamespace(ns string) bool {
	return NormalizeNamespace(ns) == AdminNamespace
}

// Platform 租户/渠道绑定
type Platform struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Context 认证成功后属于连接的身份信息
// 权限只能由角色推导，不能从外部赋值；直接构造或修改 Role 时按当前角色重新推导
type Context struct {
	PrincipalID     int64
	DisplayName     string
	Role            Role
	Platform        *Platform
	SessionID       string
	Namespace       string
	Address         string
	AuthenticatedAt time.Time

	perms     PermissionSet
	permsRole Role
}

// NewContext 按角色推导权限的身份信息
func NewContext(principalID int64, displayName string, role Role) *Context {
	return &Context{
		PrincipalID: principalID,
		DisplayName: displayName,
		Role:        role,
		perms:       PermissionsFor(role),
		permsRole:   role,
	}
}

// permissions 缓存只在与当前角色一致时使用
// Context 会被多个 goroutine 共享，这里不回写缓存
func (c *Context) permissions() PermissionSet {
	if c.perms != nil && c.permsRole == c.Role {
		return c.perms
	}
	return PermissionsFor(c.Role)
}

// IsAdmin 是否管理员
func (c *Context) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// HasPermission 是否拥有权限
func (c *Context) HasPermission(perm string) bool {
	return c != nil && c.permissions().Has(perm)
}

// Permissions 排序后的权限列表
func (c *Context) Permissions() []string {
	if c == nil {
		return nil
	}
	return c.permissions().List()
}

// withRole 复制一份并按新角色重新推导权限
func (c *Context) withRole(role Role) *Context {
	cp := *c
	cp.Role = role
	cp.perms = PermissionsFor(role)
	cp.permsRole = role
	return &cp
}
