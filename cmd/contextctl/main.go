// contextctl 是上下文注入引擎的命令行工具
package main

import (
	"fmt"
	"os"

	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// exitCode 根据错误类型返回退出码：配置类致命错误为 2，其余为 1
func exitCode(err error) int {
	if errors.IsFatal(err) {
		return 2
	}
	return 1
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
