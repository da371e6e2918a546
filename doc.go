// Package rtguard 实时连接的接入层
//
// 握手依次经过 Origin 校验、来源地址限流、会话与用户目录认证、管理命名空间授权，
// 通过后由 ws.Manager 升级为连接并放入命名空间与房间。
//
//	cfg := rtguard.NewConfig("rtguard.yaml")
//	_ = cfg.Load()
//	settings, _ := rtguard.LoadSettings(cfg)
//	guard, _ := rtguard.NewGuard(ctx, settings, log)
//	_ = guard.Manager().RegisterNamespace("", handlers, false)
//	_ = rtguard.NewServer(settings.Server, guard, log).Run()
package rtguard
