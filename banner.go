package relay

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 服务版本号
const Version = "1.0.0"

const banner = `
 ____      _
|  _ \ ___| | __ _ _   _   Relay WebRTC 信令服务
| |_) / _ \ |/ _' | | | |  房间管理、在线状态与 offer/answer/ice-candidate 转发
|  _ <  __/ | (_| | |_| |  websocket: %s
|_| \_\___|_|\__,_|\__, |  open: %s
                   |___/   version: %s
`

// printBanner 打印启动 banner 和路由表
func (e *Engine) printBanner(addr string) {
	if e.config.Quiet {
		return
	}
	e.writeBanner(os.Stdout, addr)
}

func (e *Engine) writeBanner(out io.Writer, addr string) {
	open := openURL(addr)
	fPrint(out, banner, strings.Replace(open, "http://", "ws://", 1)+"/ws", open, Version)
	fPrint(out, "\n")

	if routes := e.engine.Routes(); len(routes) > 0 {
		printRoutes(out, routes, e.config.Mode)
		fPrint(out, "\n")
	}

	mode := e.config.Mode
	if mode == gin.DebugMode {
		fPrint(out, "[Relay] Running in \"%s\" mode. Switch to \"release\" mode in production.\n", mode)
	} else {
		fPrint(out, "[Relay] Running in \"%s\" mode.\n", mode)
	}
	fPrint(out, "[Relay] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[Relay] Listening on %s\n", addr)
}

// openURL 拼接本机访问地址
func openURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		return "http://127.0.0.1" + addr
	case strings.Contains(addr, ":"):
		return "http://" + addr
	default:
		return "http://127.0.0.1:" + addr
	}
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m" // 蓝色
	case "POST":
		return "\033[32m" // 绿色
	case "HEAD":
		return "\033[35m" // 紫色
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 格式化打印路由表（Gin 风格 + 颜色）
func printRoutes(out io.Writer, routes gin.RoutesInfo, mode string) {
	maxPathLen := 0
	for _, r := range routes {
		if len(r.Path) > maxPathLen {
			maxPathLen = len(r.Path)
		}
	}

	for _, r := range routes {
		fPrint(out, "[Relay-%s] %s %-7s %s %-*s --> %s\n",
			mode,
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误（banner 输出场景）
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
