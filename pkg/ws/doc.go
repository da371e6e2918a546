// Package ws 管理已认证的 websocket 连接：命名空间、房间、事件分发和广播。
//
// 连接必须先经过 auth.Handler 认证，再由 Manager.Admit 升级。每个命名空间在启动前
// 通过 RegisterNamespace 声明一次，adminOnly 的命名空间在每次分发时都会按连接
// 当前的身份重新检查 admin 角色。会话复核会定期调用 Authorizer.Refresh，
// 失效的连接以 4001 关闭，被降级的管理连接以 4003 关闭。
//
//	m, _ := ws.NewManager(authHandler, ws.WithCheckOrigin(resolver.CheckOrigin))
//	_ = m.RegisterNamespace("/", ws.Handlers{"chat.send": onChat}, false)
//	_ = m.RegisterNamespace("/admin", ws.Handlers{"users.list": onUsers}, true)
//	_ = m.Run()
//
// 入站消息格式：
//
//	{"type":"request","event":"chat.send","request_id":"r1","data":{...}}
//
// 错误应答只包含错误码与原因：
//
//	{"type":"error","request_id":"r1","code":3004,"reason":"insufficient_privileges"}
package ws
